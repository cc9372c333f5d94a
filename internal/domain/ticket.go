package domain

import (
	"time"
)

// RawRecord is one upstream search row exactly as received: field values
// keyed by the upstream's numeric field codes. Discarded after normalization.
type RawRecord map[string]interface{}

// TicketStatus represents the normalized status of a ticket
type TicketStatus string

const (
	StatusNew        TicketStatus = "NEW"
	StatusInProgress TicketStatus = "IN_PROGRESS"
	StatusPending    TicketStatus = "PENDING"
	StatusResolved   TicketStatus = "RESOLVED"
	StatusClosed     TicketStatus = "CLOSED"
	StatusUnknown    TicketStatus = "UNKNOWN"
)

// NormalizedTicket is the named-schema view of an upstream ticket record.
// Immutable once built by the normalizer.
type NormalizedTicket struct {
	ID         int          `json:"id"`
	Status     TicketStatus `json:"status"`
	AssigneeID int          `json:"assignee_id"`
	GroupID    int          `json:"group_id"`
	CreatedAt  time.Time    `json:"created_at"`
	ModifiedAt time.Time    `json:"modified_at"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// ResolutionHours returns the hours between creation and resolution. The
// second return value is false when either timestamp is missing; such
// tickets are excluded from averages, not treated as zero.
func (t NormalizedTicket) ResolutionHours() (float64, bool) {
	if t.CreatedAt.IsZero() || t.ResolvedAt == nil || t.ResolvedAt.IsZero() {
		return 0, false
	}
	return t.ResolvedAt.Sub(t.CreatedAt).Hours(), true
}

// Custom errors
var (
	ErrNoSnapshot = NewDomainError("no snapshot recorded")
)

// NormalizationError reports a record that could not be normalized because a
// required field is absent. Record-level and non-fatal: callers skip the
// record and count it.
type NormalizationError struct {
	Field string
}

func (e *NormalizationError) Error() string {
	return "missing required field: " + e.Field
}

// DomainError represents a domain-specific error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func NewDomainError(message string) *DomainError {
	return &DomainError{Message: message}
}
