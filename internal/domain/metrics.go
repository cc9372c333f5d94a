package domain

import (
	"time"
)

// StatusTotals holds ticket counts per status class. The JSON keys follow the
// downstream dashboard contract.
type StatusTotals struct {
	Novos      int `json:"novos"`
	Pendentes  int `json:"pendentes"`
	Progresso  int `json:"progresso"`
	Resolvidos int `json:"resolvidos"`
}

// Add counts a ticket status into the totals. Closed and unknown statuses are
// not part of any class and are ignored here; they still count toward
// per-technician TotalTickets.
func (t *StatusTotals) Add(status TicketStatus) {
	switch status {
	case StatusNew:
		t.Novos++
	case StatusPending:
		t.Pendentes++
	case StatusInProgress:
		t.Progresso++
	case StatusResolved:
		t.Resolvidos++
	}
}

// Sum returns the total across all status classes.
func (t StatusTotals) Sum() int {
	return t.Novos + t.Pendentes + t.Progresso + t.Resolvidos
}

// TrendDeltas holds the difference between the current snapshot and the
// previous persisted snapshot for the same reporting window. BaselineAt is
// nil when no history exists.
type TrendDeltas struct {
	Novos      int        `json:"novos"`
	Pendentes  int        `json:"pendentes"`
	Progresso  int        `json:"progresso"`
	Resolvidos int        `json:"resolvidos"`
	BaselineAt *time.Time `json:"baseline_at,omitempty"`
}

// MetricsSnapshot is one coherent point-in-time view of the service desk.
// GeneralTotals must be explainable as the sum of all per-level totals plus
// OtherGroupsTotal; the consistency validator checks this and annotates the
// snapshot instead of repairing it.
type MetricsSnapshot struct {
	GeneralTotals    StatusTotals               `json:"generalTotals"`
	PerLevel         map[TechLevel]StatusTotals `json:"perLevel"`
	OtherGroupsTotal int                        `json:"otherGroupsTotal"`
	TotalTickets     int                        `json:"totalTickets"`
	Trend            TrendDeltas                `json:"trend"`
	Degraded         bool                       `json:"degraded"`
	Warnings         []string                   `json:"warnings,omitempty"`
	ComputedAt       time.Time                  `json:"computedAt"`
}

// RankingEntry is one technician's computed performance row for a reporting
// window. Rank is 1-based and contiguous.
type RankingEntry struct {
	Rank               int       `json:"rank"`
	TechnicianID       int       `json:"technicianId"`
	Name               string    `json:"name"`
	Level              TechLevel `json:"level"`
	TotalTickets       int       `json:"totalTickets"`
	ResolvedTickets    int       `json:"resolvedTickets"`
	PendingTickets     int       `json:"pendingTickets"`
	AvgResolutionHours float64   `json:"avgResolutionHours"`
}

// ValidationReport is the consistency validator's verdict on a snapshot.
type ValidationReport struct {
	OK       bool     `json:"ok"`
	Warnings []string `json:"warnings,omitempty"`
}
