package metrics

import (
	"sort"
	"time"

	"github.com/deskora/deskora/internal/domain"
	"github.com/sirupsen/logrus"
)

// Computer reduces normalized tickets into snapshots and rankings. It is
// purely computational; fetching and caching live elsewhere.
type Computer struct {
	logger *logrus.Logger
}

func NewComputer(logger *logrus.Logger) *Computer {
	return &Computer{logger: logger}
}

// Compute buckets tickets into general and per-level totals. Tickets whose
// group maps to no N1-N4 tier are counted in OtherGroupsTotal so the general
// totals stay explainable as the sum of all buckets. Trend deltas are filled
// in by the caller once a baseline snapshot is known.
func (c *Computer) Compute(tickets []domain.NormalizedTicket, byGroup map[int]domain.TechLevel, now time.Time) domain.MetricsSnapshot {
	snapshot := domain.MetricsSnapshot{
		PerLevel:     make(map[domain.TechLevel]domain.StatusTotals, len(domain.Levels())),
		TotalTickets: len(tickets),
		ComputedAt:   now,
	}
	for _, level := range domain.Levels() {
		snapshot.PerLevel[level] = domain.StatusTotals{}
	}

	var other domain.StatusTotals
	for _, ticket := range tickets {
		snapshot.GeneralTotals.Add(ticket.Status)

		level := domain.ResolveLevel(ticket.GroupID, byGroup)
		if level == domain.LevelUnassigned {
			other.Add(ticket.Status)
			continue
		}
		totals := snapshot.PerLevel[level]
		totals.Add(ticket.Status)
		snapshot.PerLevel[level] = totals
	}
	snapshot.OtherGroupsTotal = other.Sum()

	return snapshot
}

// rankingRow accumulates per-technician counters before sorting.
type rankingRow struct {
	entry         domain.RankingEntry
	resolutionSum float64
	resolutionObs int
}

// Rank computes one entry per technician in the directory. Ordering is
// resolved tickets descending, then average resolution hours ascending, then
// technician ID ascending, so equal inputs always produce identical output.
// A technician with no measurable resolution times sorts after anyone with a
// real average on a resolved-count tie; a zero from missing timestamps is
// absence of data, not a fast average. Ranks are 1-based and contiguous;
// ties get distinct ranks per the final tie-break rather than shared numbers.
func (c *Computer) Rank(tickets []domain.NormalizedTicket, technicians []domain.Technician) []domain.RankingEntry {
	rows := make(map[int]*rankingRow, len(technicians))
	for _, tech := range technicians {
		rows[tech.ID] = &rankingRow{entry: domain.RankingEntry{
			TechnicianID: tech.ID,
			Name:         tech.Name,
			Level:        tech.Level,
		}}
	}

	for _, ticket := range tickets {
		row, ok := rows[ticket.AssigneeID]
		if !ok {
			continue
		}
		row.entry.TotalTickets++
		switch ticket.Status {
		case domain.StatusResolved:
			row.entry.ResolvedTickets++
		case domain.StatusPending:
			row.entry.PendingTickets++
		}
		if hours, ok := ticket.ResolutionHours(); ok {
			row.resolutionSum += hours
			row.resolutionObs++
		}
	}

	ordered := make([]*rankingRow, 0, len(rows))
	for _, row := range rows {
		if row.resolutionObs > 0 {
			row.entry.AvgResolutionHours = row.resolutionSum / float64(row.resolutionObs)
		}
		ordered = append(ordered, row)
	}

	// pre-sort by ID so the stable sort's tie-break is deterministic
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].entry.TechnicianID < ordered[j].entry.TechnicianID
	})
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.entry.ResolvedTickets != b.entry.ResolvedTickets {
			return a.entry.ResolvedTickets > b.entry.ResolvedTickets
		}
		if (a.resolutionObs > 0) != (b.resolutionObs > 0) {
			return a.resolutionObs > 0
		}
		return a.entry.AvgResolutionHours < b.entry.AvgResolutionHours
	})

	ranking := make([]domain.RankingEntry, len(ordered))
	for i, row := range ordered {
		row.entry.Rank = i + 1
		ranking[i] = row.entry
	}
	return ranking
}

// Trend computes per-class deltas between current and a baseline snapshot.
// A nil baseline yields zero deltas with no baseline timestamp.
func (c *Computer) Trend(current domain.MetricsSnapshot, baseline *domain.MetricsSnapshot) domain.TrendDeltas {
	if baseline == nil {
		return domain.TrendDeltas{}
	}
	baselineAt := baseline.ComputedAt
	return domain.TrendDeltas{
		Novos:      current.GeneralTotals.Novos - baseline.GeneralTotals.Novos,
		Pendentes:  current.GeneralTotals.Pendentes - baseline.GeneralTotals.Pendentes,
		Progresso:  current.GeneralTotals.Progresso - baseline.GeneralTotals.Progresso,
		Resolvidos: current.GeneralTotals.Resolvidos - baseline.GeneralTotals.Resolvidos,
		BaselineAt: &baselineAt,
	}
}
