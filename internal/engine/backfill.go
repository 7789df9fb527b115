package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lazypower/ember/internal/heat"
	"github.com/lazypower/ember/internal/metrics"
	"github.com/lazypower/ember/internal/store"
)

// LegacyLister lists records that predate heat bookkeeping.
type LegacyLister interface {
	ListMissingHeat(ctx context.Context) ([]store.Memory, error)
}

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Scanned  int       `json:"scanned"`
	Filled   int       `json:"filled"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Backfiller seeds legacy records with the heat they would have reached by
// decay alone since creation. Records that already carry heat are never
// touched, so it is safe to run on every start.
type Backfiller struct {
	legacy LegacyLister
	ledger *heat.Ledger
}

// NewBackfiller creates a backfiller.
func NewBackfiller(legacy LegacyLister, ledger *heat.Ledger) *Backfiller {
	return &Backfiller{legacy: legacy, ledger: ledger}
}

// Run seeds every record missing heat as of now.
func (b *Backfiller) Run(ctx context.Context) (BackfillReport, error) {
	var report BackfillReport
	records, err := b.legacy.ListMissingHeat(ctx)
	if err != nil {
		return report, fmt.Errorf("list legacy records: %w", err)
	}

	asOf := b.ledger.Now()
	for _, m := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		seeded, ok, err := b.ledger.Seed(ctx, m.ID, asOf)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, Failure{ID: m.ID, Error: err.Error()})
			continue
		}
		if !ok {
			report.Skipped++
			continue
		}
		report.Filled++
		slog.Debug("backfilled heat", "id", m.ID, "heat", seeded.Heat)
	}

	metrics.BackfilledRecordsTotal.Add(float64(report.Filled))
	return report, nil
}
