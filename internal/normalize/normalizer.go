package normalize

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deskora/deskora/internal/domain"
)

// upstream timestamps come as "2006-01-02 15:04:05" in the server timezone
const upstreamTimeLayout = "2006-01-02 15:04:05"

// statusTable is the closed mapping from upstream status codes to the
// normalized enum. Codes outside this table map to StatusUnknown.
var statusTable = map[int]domain.TicketStatus{
	1: domain.StatusNew,
	2: domain.StatusInProgress,
	3: domain.StatusInProgress,
	4: domain.StatusPending,
	5: domain.StatusResolved,
	6: domain.StatusClosed,
}

// Normalizer translates raw numeric-coded upstream records into the named
// schema. Pure and synchronous: the same raw record always yields the same
// normalized ticket.
type Normalizer struct {
	fields FieldMap
	logger *logrus.Logger
}

// NewNormalizer creates a normalizer, validating the field map up front.
func NewNormalizer(fields FieldMap, logger *logrus.Logger) (*Normalizer, error) {
	if err := fields.Validate(); err != nil {
		return nil, fmt.Errorf("invalid field map: %w", err)
	}
	return &Normalizer{fields: fields, logger: logger}, nil
}

// Normalize builds a NormalizedTicket from a raw record. Records missing the
// required id or status fields fail with a NormalizationError; unknown field
// codes are dropped with a warning.
func (n *Normalizer) Normalize(raw domain.RawRecord) (domain.NormalizedTicket, error) {
	n.warnUnknownCodes(raw)

	id, ok := asInt(raw[CodeID])
	if !ok {
		return domain.NormalizedTicket{}, &domain.NormalizationError{Field: n.fields[CodeID]}
	}

	statusCode, ok := asInt(raw[CodeStatus])
	if !ok {
		return domain.NormalizedTicket{}, &domain.NormalizationError{Field: n.fields[CodeStatus]}
	}

	status, ok := statusTable[statusCode]
	if !ok {
		status = domain.StatusUnknown
		n.logger.WithFields(logrus.Fields{
			"ticket_id":   id,
			"status_code": statusCode,
		}).Warn("Unrecognized status code, mapping to UNKNOWN")
	}

	ticket := domain.NormalizedTicket{
		ID:     id,
		Status: status,
	}

	if assignee, ok := asInt(raw[CodeAssignee]); ok {
		ticket.AssigneeID = assignee
	}
	if group, ok := asInt(raw[CodeGroup]); ok {
		ticket.GroupID = group
	}
	if created, ok := asTime(raw[CodeCreated]); ok {
		ticket.CreatedAt = created
	}
	if modified, ok := asTime(raw[CodeModified]); ok {
		ticket.ModifiedAt = modified
	}
	if resolved, ok := asTime(raw[CodeResolved]); ok {
		ticket.ResolvedAt = &resolved
	}

	return ticket, nil
}

// NormalizeBatch normalizes every record it can, returning the tickets plus
// the number of skipped records. Malformed records never abort the batch.
func (n *Normalizer) NormalizeBatch(raws []domain.RawRecord) ([]domain.NormalizedTicket, int) {
	tickets := make([]domain.NormalizedTicket, 0, len(raws))
	skipped := 0

	for _, raw := range raws {
		ticket, err := n.Normalize(raw)
		if err != nil {
			skipped++
			n.logger.WithError(err).Warn("Skipping record that failed normalization")
			continue
		}
		tickets = append(tickets, ticket)
	}

	return tickets, skipped
}

// NormalizeTechnician builds a Technician from a raw directory record,
// deriving the level from group membership.
func (n *Normalizer) NormalizeTechnician(raw domain.RawRecord, byGroup map[int]domain.TechLevel) (domain.Technician, error) {
	id, ok := asInt(raw[CodeID])
	if !ok {
		return domain.Technician{}, &domain.NormalizationError{Field: n.fields[CodeID]}
	}

	tech := domain.Technician{
		ID:    id,
		Level: domain.LevelUnassigned,
	}

	if name, ok := raw[CodeName].(string); ok {
		tech.Name = name
	}
	if group, ok := asInt(raw[CodeGroup]); ok {
		tech.Level = domain.ResolveLevel(group, byGroup)
	}

	return tech, nil
}

// warnUnknownCodes logs codes absent from the field map. Forward
// compatibility with upstream schema drift: unknown codes are dropped, never
// fatal.
func (n *Normalizer) warnUnknownCodes(raw domain.RawRecord) {
	for code := range raw {
		if _, ok := n.fields[code]; !ok {
			n.logger.WithField("code", code).Warn("Dropping unknown field code")
		}
	}
}

// asInt coerces the loosely typed values the upstream emits (JSON numbers,
// numeric strings) into an int.
func asInt(v interface{}) (int, bool) {
	switch value := v.(type) {
	case int:
		return value, true
	case int64:
		return int(value), true
	case float64:
		return int(value), true
	case string:
		i, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(upstreamTimeLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
