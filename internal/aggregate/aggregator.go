package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config bounds the fan-out over per-technician fetches.
type Config struct {
	// Concurrency is the maximum number of in-flight fetches.
	Concurrency int
	// FailureFraction is the tolerated share of failed fetches before the
	// whole aggregation is reported as degraded.
	FailureFraction float64
}

// DegradedError reports that too many per-technician fetches failed for the
// aggregate to be trustworthy.
type DegradedError struct {
	Failed int
	Total  int
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("aggregation degraded: %d of %d fetches failed", e.Failed, e.Total)
}

// FetchFunc loads the data for one technician.
type FetchFunc func(ctx context.Context, technicianID int) (interface{}, error)

// Result collects the successful fetches and the identifiers that failed.
type Result struct {
	// Items maps technician ID to the fetched value.
	Items map[int]interface{}
	// FailedIDs lists the technicians whose fetch failed, ascending.
	FailedIDs []int
}

// Aggregator fans a fetch out over a set of technicians with bounded
// concurrency and tolerates partial failure up to a configured fraction.
type Aggregator struct {
	cfg    Config
	logger *logrus.Logger
}

func NewAggregator(cfg Config, logger *logrus.Logger) *Aggregator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.FailureFraction <= 0 {
		cfg.FailureFraction = 0.5
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

// Run fetches every technician in ids. Individual failures are logged and
// recorded, not propagated, so one slow or broken upstream call cannot sink
// the batch. When the failed share exceeds the configured fraction the result
// is still returned alongside a DegradedError.
func (a *Aggregator) Run(ctx context.Context, ids []int, fetch FetchFunc) (*Result, error) {
	result := &Result{Items: make(map[int]interface{}, len(ids))}
	if len(ids) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(a.cfg.Concurrency)

	for _, id := range ids {
		id := id
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				result.FailedIDs = append(result.FailedIDs, id)
				mu.Unlock()
				return nil
			}

			item, err := fetch(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.WithError(err).WithField("technician_id", id).Warn("Technician fetch failed")
				result.FailedIDs = append(result.FailedIDs, id)
				return nil
			}
			result.Items[id] = item
			return nil
		})
	}
	_ = group.Wait()

	sort.Ints(result.FailedIDs)

	// degraded only when failures strictly exceed the tolerated fraction
	failed := len(result.FailedIDs)
	if float64(failed) > a.cfg.FailureFraction*float64(len(ids)) {
		return result, &DegradedError{Failed: failed, Total: len(ids)}
	}
	return result, nil
}
