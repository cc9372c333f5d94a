package domain

// TechLevel represents the tiered-support classification of a technician
type TechLevel string

const (
	LevelN1         TechLevel = "N1"
	LevelN2         TechLevel = "N2"
	LevelN3         TechLevel = "N3"
	LevelN4         TechLevel = "N4"
	LevelUnassigned TechLevel = "UNASSIGNED"
)

// Levels lists the tiered levels in display order, without Unassigned.
func Levels() []TechLevel {
	return []TechLevel{LevelN1, LevelN2, LevelN3, LevelN4}
}

// IsValidLevel reports whether l is one of the N1-N4 tiers.
func IsValidLevel(l TechLevel) bool {
	switch l {
	case LevelN1, LevelN2, LevelN3, LevelN4:
		return true
	}
	return false
}

// Technician represents one entry of the upstream technician directory
type Technician struct {
	ID    int       `json:"id"`
	Name  string    `json:"name"`
	Level TechLevel `json:"level"`
}

// ResolveLevel derives a technician level from a group membership, defaulting
// to Unassigned when the group maps to no N1-N4 tier.
func ResolveLevel(groupID int, byGroup map[int]TechLevel) TechLevel {
	if level, ok := byGroup[groupID]; ok && IsValidLevel(level) {
		return level
	}
	return LevelUnassigned
}
