package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lazypower/ember/internal/heat"
	"github.com/lazypower/ember/internal/metrics"
	"github.com/lazypower/ember/internal/store"
)

// DecayLister lists the records a decay sweep visits.
type DecayLister interface {
	ListNonPinnedIDs(ctx context.Context) ([]string, error)
}

// SweepReport summarizes one decay sweep.
type SweepReport struct {
	Scanned  int           `json:"scanned"`
	Decayed  int           `json:"decayed"`
	Failed   int           `json:"failed"`
	Failures []Failure     `json:"failures,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// DecayEngine periodically catches every non-pinned memory up to the
// present. Decay is idempotent, so missed or overlapping sweeps are safe and
// the engine only keeps stored values fresh for direct inspection.
type DecayEngine struct {
	ids      DecayLister
	ledger   *heat.Ledger
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDecayEngine creates a decay engine sweeping every interval.
func NewDecayEngine(ids DecayLister, ledger *heat.Ledger, interval time.Duration) *DecayEngine {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &DecayEngine{
		ids:      ids,
		ledger:   ledger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Sweep applies decay up to now to every non-pinned record. A failing
// record is recorded and skipped; cancellation stops the sweep between
// records and returns the partial report with the context's error.
func (d *DecayEngine) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	var report SweepReport
	defer func() {
		report.Duration = time.Since(start)
		metrics.DecayLastSweepSeconds.Set(report.Duration.Seconds())
	}()

	ids, err := d.ids.ListNonPinnedIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list decay candidates: %w", err)
	}

	asOf := d.ledger.Now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		_, err := d.ledger.ApplyDecay(ctx, id, asOf)
		switch {
		case err == nil:
			report.Decayed++
		case errors.Is(err, store.ErrNotFound):
			// Removed since listing.
		default:
			report.Failed++
			report.Failures = append(report.Failures, Failure{ID: id, Error: err.Error()})
		}
	}

	metrics.DecaySweepsTotal.Inc()
	metrics.DecayedRecordsTotal.Add(float64(report.Decayed))
	metrics.DecayFailuresTotal.Add(float64(report.Failed))
	return report, nil
}

// Start runs a sweep immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (d *DecayEngine) Start(ctx context.Context) {
	d.run(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.run(ctx)
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			}
		}
	}()
}

func (d *DecayEngine) run(ctx context.Context) {
	report, err := d.Sweep(ctx)
	if err != nil {
		slog.Error("decay sweep", "error", err, "scanned", report.Scanned)
		return
	}
	if report.Failed > 0 {
		slog.Warn("decay sweep partial failure",
			"scanned", report.Scanned, "decayed", report.Decayed, "failed", report.Failed)
		return
	}
	slog.Debug("decay sweep", "scanned", report.Scanned, "decayed", report.Decayed, "duration", report.Duration)
}

// Stop halts the ticker and waits for an in-flight sweep to finish.
func (d *DecayEngine) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}
