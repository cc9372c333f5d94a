package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deskora/deskora/internal/aggregate"
	"github.com/deskora/deskora/internal/cache"
	"github.com/deskora/deskora/internal/domain"
	"github.com/deskora/deskora/internal/metrics"
	"github.com/deskora/deskora/internal/normalize"
	"github.com/deskora/deskora/internal/ports"
	"github.com/sirupsen/logrus"
)

var (
	ErrBadWindow = domain.NewDomainError("unsupported reporting window")
	ErrBadLevel  = domain.NewDomainError("unknown technician level")
)

// DefaultWindow is used when a request does not name a reporting window.
const DefaultWindow = "7d"

// Config tunes per-operation cache lifetimes and the overall deadline of a
// fan-out computation.
type Config struct {
	SnapshotTTL       time.Duration
	RankingTTL        time.Duration
	TechniciansTTL    time.Duration
	AggregateDeadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 5 * time.Minute
	}
	if c.RankingTTL <= 0 {
		c.RankingTTL = 5 * time.Minute
	}
	if c.TechniciansTTL <= 0 {
		c.TechniciansTTL = 15 * time.Minute
	}
	if c.AggregateDeadline <= 0 {
		c.AggregateDeadline = 30 * time.Second
	}
}

// MetricsUsecase is the service-desk metrics core: it pulls raw records from
// the ticket source, normalizes and reduces them, and caches the expensive
// results. History is optional; without a repository trend deltas stay empty.
type MetricsUsecase struct {
	source     ports.TicketSource
	history    ports.SnapshotRepository
	cache      cache.Cache
	normalizer *normalize.Normalizer
	computer   *metrics.Computer
	validator  *metrics.Validator
	aggregator *aggregate.Aggregator
	byGroup    map[int]domain.TechLevel
	cfg        Config
	logger     *logrus.Logger
	now        func() time.Time
}

func NewMetricsUsecase(
	source ports.TicketSource,
	history ports.SnapshotRepository,
	c cache.Cache,
	normalizer *normalize.Normalizer,
	computer *metrics.Computer,
	validator *metrics.Validator,
	aggregator *aggregate.Aggregator,
	byGroup map[int]domain.TechLevel,
	cfg Config,
	logger *logrus.Logger,
) *MetricsUsecase {
	cfg.applyDefaults()
	return &MetricsUsecase{
		source:     source,
		history:    history,
		cache:      c,
		normalizer: normalizer,
		computer:   computer,
		validator:  validator,
		aggregator: aggregator,
		byGroup:    byGroup,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ParseWindow turns a "<n>d" reporting window into a duration.
func ParseWindow(window string) (time.Duration, error) {
	if !strings.HasSuffix(window, "d") {
		return 0, ErrBadWindow
	}
	days, err := strconv.Atoi(strings.TrimSuffix(window, "d"))
	if err != nil || days < 1 || days > 365 {
		return 0, ErrBadWindow
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// GetSnapshot returns the metrics snapshot for a reporting window, serving
// from cache when fresh.
func (u *MetricsUsecase) GetSnapshot(ctx context.Context, window string) (domain.MetricsSnapshot, error) {
	if window == "" {
		window = DefaultWindow
	}
	span, err := ParseWindow(window)
	if err != nil {
		return domain.MetricsSnapshot{}, err
	}

	key := "snapshot:" + window
	payload, err := u.cache.GetOrCompute(ctx, key, u.cfg.SnapshotTTL, []string{cache.TagTickets}, func(ctx context.Context) ([]byte, error) {
		snapshot, err := u.computeSnapshot(ctx, window, span)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snapshot)
	})
	if err != nil {
		return domain.MetricsSnapshot{}, err
	}

	var snapshot domain.MetricsSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return snapshot, nil
}

func (u *MetricsUsecase) computeSnapshot(ctx context.Context, window string, span time.Duration) (domain.MetricsSnapshot, error) {
	now := u.now()
	since := now.Add(-span)

	raws, err := u.source.SearchTickets(ctx, since)
	if err != nil {
		return domain.MetricsSnapshot{}, fmt.Errorf("search tickets: %w", err)
	}
	tickets, skipped := u.normalizer.NormalizeBatch(raws)

	snapshot := u.computer.Compute(tickets, u.byGroup, now)
	if skipped > 0 {
		snapshot.Warnings = append(snapshot.Warnings,
			fmt.Sprintf("%d records skipped during normalization", skipped))
	}

	if u.history != nil {
		baseline, err := u.history.LatestBefore(ctx, window, now)
		if err != nil && !errors.Is(err, domain.ErrNoSnapshot) {
			u.logger.WithError(err).Warn("Trend baseline lookup failed")
		}
		snapshot.Trend = u.computer.Trend(snapshot, baseline)
	}

	snapshot = u.validator.Annotate(snapshot)

	if u.history != nil {
		if err := u.history.Save(ctx, window, snapshot); err != nil {
			u.logger.WithError(err).Warn("Snapshot persistence failed")
		}
	}
	return snapshot, nil
}

// GetRanking returns the technician ranking for a window, optionally filtered
// to one support level. Per-technician fetches fan out in parallel; too many
// failures surface as an aggregate.DegradedError.
func (u *MetricsUsecase) GetRanking(ctx context.Context, level domain.TechLevel, window string) ([]domain.RankingEntry, error) {
	if window == "" {
		window = DefaultWindow
	}
	span, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if level != "" && !domain.IsValidLevel(level) {
		return nil, ErrBadLevel
	}

	key := fmt.Sprintf("ranking:%s:%s", level, window)
	payload, err := u.cache.GetOrCompute(ctx, key, u.cfg.RankingTTL, []string{cache.TagTickets, cache.TagTechnicians}, func(ctx context.Context) ([]byte, error) {
		ranking, err := u.computeRanking(ctx, level, span)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ranking)
	})
	if err != nil {
		return nil, err
	}

	var ranking []domain.RankingEntry
	if err := json.Unmarshal(payload, &ranking); err != nil {
		return nil, fmt.Errorf("decode cached ranking: %w", err)
	}
	return ranking, nil
}

func (u *MetricsUsecase) computeRanking(ctx context.Context, level domain.TechLevel, span time.Duration) ([]domain.RankingEntry, error) {
	technicians, err := u.Technicians(ctx)
	if err != nil {
		return nil, fmt.Errorf("technician directory: %w", err)
	}
	if level != "" {
		filtered := technicians[:0:0]
		for _, tech := range technicians {
			if tech.Level == level {
				filtered = append(filtered, tech)
			}
		}
		technicians = filtered
	}

	since := u.now().Add(-span)
	ids := make([]int, len(technicians))
	for i, tech := range technicians {
		ids[i] = tech.ID
	}

	aggCtx, cancel := context.WithTimeout(ctx, u.cfg.AggregateDeadline)
	defer cancel()

	result, aggErr := u.aggregator.Run(aggCtx, ids, func(ctx context.Context, techID int) (interface{}, error) {
		raws, err := u.source.TechnicianTickets(ctx, techID, since)
		if err != nil {
			return nil, err
		}
		tickets, _ := u.normalizer.NormalizeBatch(raws)
		return tickets, nil
	})
	if aggErr != nil {
		return nil, aggErr
	}
	if len(result.FailedIDs) > 0 {
		u.logger.WithField("failed_ids", result.FailedIDs).Warn("Ranking computed from partial data")
	}

	var tickets []domain.NormalizedTicket
	for _, item := range result.Items {
		tickets = append(tickets, item.([]domain.NormalizedTicket)...)
	}

	return u.computer.Rank(tickets, technicians), nil
}

// Technicians returns the normalized technician directory, cached with its
// own longer TTL. Records that fail to normalize are skipped with a warning.
func (u *MetricsUsecase) Technicians(ctx context.Context) ([]domain.Technician, error) {
	payload, err := u.cache.GetOrCompute(ctx, "technicians:directory", u.cfg.TechniciansTTL, []string{cache.TagTechnicians}, func(ctx context.Context) ([]byte, error) {
		raws, err := u.source.ListTechnicians(ctx)
		if err != nil {
			return nil, fmt.Errorf("list technicians: %w", err)
		}
		technicians := make([]domain.Technician, 0, len(raws))
		for _, raw := range raws {
			tech, err := u.normalizer.NormalizeTechnician(raw, u.byGroup)
			if err != nil {
				u.logger.WithError(err).Warn("Technician record skipped")
				continue
			}
			technicians = append(technicians, tech)
		}
		sort.Slice(technicians, func(i, j int) bool { return technicians[i].ID < technicians[j].ID })
		return json.Marshal(technicians)
	})
	if err != nil {
		return nil, err
	}

	var technicians []domain.Technician
	if err := json.Unmarshal(payload, &technicians); err != nil {
		return nil, fmt.Errorf("decode cached technicians: %w", err)
	}
	return technicians, nil
}

// InvalidateTickets drops every cached result derived from ticket data.
func (u *MetricsUsecase) InvalidateTickets(ctx context.Context) error {
	return u.cache.Invalidate(ctx, cache.TagTickets)
}

// InvalidateTechnicians drops the directory and everything derived from it.
func (u *MetricsUsecase) InvalidateTechnicians(ctx context.Context) error {
	return u.cache.Invalidate(ctx, cache.TagTechnicians)
}

// CacheStats exposes cache counters for the health endpoint.
func (u *MetricsUsecase) CacheStats() cache.Stats {
	return u.cache.Stats()
}
