package metrics

import (
	"fmt"

	"github.com/deskora/deskora/internal/domain"
	"github.com/sirupsen/logrus"
)

// Validator cross-checks that a snapshot's level buckets reconcile with its
// general totals. Discrepancies are reported, never repaired; the business
// rule for which side is authoritative is still owned by the service desk
// team.
type Validator struct {
	logger *logrus.Logger
}

func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate checks generalTotals == sum(perLevel) + otherGroupsTotal. The
// snapshot is not mutated; callers decide what a warning means for them.
func (v *Validator) Validate(snapshot domain.MetricsSnapshot) domain.ValidationReport {
	report := domain.ValidationReport{OK: true}

	levelSum := 0
	for _, totals := range snapshot.PerLevel {
		levelSum += totals.Sum()
	}
	explained := levelSum + snapshot.OtherGroupsTotal
	general := snapshot.GeneralTotals.Sum()

	if general != explained {
		report.OK = false
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"general totals (%d) do not reconcile with level buckets (%d) plus other groups (%d)",
			general, levelSum, snapshot.OtherGroupsTotal,
		))
		v.logger.WithFields(logrus.Fields{
			"general":      general,
			"level_sum":    levelSum,
			"other_groups": snapshot.OtherGroupsTotal,
		}).Warn("Snapshot totals inconsistent")
	}

	return report
}

// Annotate runs Validate and folds the verdict into the snapshot, marking it
// degraded when the totals do not reconcile.
func (v *Validator) Annotate(snapshot domain.MetricsSnapshot) domain.MetricsSnapshot {
	report := v.Validate(snapshot)
	if !report.OK {
		snapshot.Degraded = true
		snapshot.Warnings = append(snapshot.Warnings, report.Warnings...)
	}
	return snapshot
}
