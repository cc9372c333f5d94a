package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskora/deskora/internal/domain"
	"github.com/deskora/deskora/internal/ports"
)

// PostgresSnapshotRepository persists computed snapshots using PostgreSQL.
// Payloads are stored as jsonb so the snapshot shape can evolve without
// migrations.
type PostgresSnapshotRepository struct {
	db *sql.DB
}

// NewPostgresSnapshotRepository creates a new PostgreSQL snapshot repository
func NewPostgresSnapshotRepository(db *sql.DB) ports.SnapshotRepository {
	return &PostgresSnapshotRepository{db: db}
}

// EnsureSchema creates the snapshots table if it does not exist yet.
func (r *PostgresSnapshotRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS metrics_snapshots (
			id          BIGSERIAL PRIMARY KEY,
			window_name TEXT NOT NULL,
			payload     JSONB NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_metrics_snapshots_window_time
			ON metrics_snapshots (window_name, computed_at DESC);
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure snapshot schema: %w", err)
	}
	return nil
}

// Save stores one snapshot for a reporting window
func (r *PostgresSnapshotRepository) Save(ctx context.Context, window string, snapshot domain.MetricsSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	query := `
		INSERT INTO metrics_snapshots (window_name, payload, computed_at)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.ExecContext(ctx, query, window, payload, snapshot.ComputedAt); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestBefore retrieves the most recent snapshot for a window computed
// strictly before the given time
func (r *PostgresSnapshotRepository) LatestBefore(ctx context.Context, window string, before time.Time) (*domain.MetricsSnapshot, error) {
	query := `
		SELECT payload
		FROM metrics_snapshots
		WHERE window_name = $1 AND computed_at < $2
		ORDER BY computed_at DESC
		LIMIT 1
	`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, window, before).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snapshot domain.MetricsSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}
