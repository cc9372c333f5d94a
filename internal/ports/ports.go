package ports

import (
	"context"
	"time"

	"github.com/deskora/deskora/internal/domain"
)

// TicketSource is the upstream ticket system as the use cases see it: raw
// records in, field codes and all. Normalization happens on this side of the
// boundary.
type TicketSource interface {
	SearchTickets(ctx context.Context, since time.Time) ([]domain.RawRecord, error)
	TechnicianTickets(ctx context.Context, techID int, since time.Time) ([]domain.RawRecord, error)
	ListTechnicians(ctx context.Context) ([]domain.RawRecord, error)
}

// SnapshotRepository persists computed snapshots per reporting window so
// trend deltas can compare against history.
type SnapshotRepository interface {
	Save(ctx context.Context, window string, snapshot domain.MetricsSnapshot) error
	LatestBefore(ctx context.Context, window string, before time.Time) (*domain.MetricsSnapshot, error)
}
