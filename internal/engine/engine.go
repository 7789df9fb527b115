package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lazypower/ember/internal/heat"
	"github.com/lazypower/ember/internal/metrics"
	"github.com/lazypower/ember/internal/store"
)

var tracer = otel.Tracer("ember")

// Options tunes the query surface and background work.
type Options struct {
	Policy         heat.Policy
	Weights        Weights
	Bands          heat.Bands
	Overfetch      int // similarity candidates fetched per requested result
	BoostOnSearch  bool
	DefaultLimit   int
	MaxLimit       int
	ColdMinAgeDays float64
	Timeout        time.Duration // per query surface call; 0 disables
	DecayInterval  time.Duration
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Policy:         heat.DefaultPolicy(),
		Weights:        DefaultWeights(),
		Bands:          heat.DefaultBands(),
		Overfetch:      3,
		BoostOnSearch:  true,
		DefaultLimit:   10,
		MaxLimit:       100,
		ColdMinAgeDays: 7,
		Timeout:        5 * time.Second,
		DecayInterval:  24 * time.Hour,
	}
}

// Engine is the query surface over the memory store: it ranks search
// results by similarity and heat, serves the hot and cold views, and owns
// the background decay and backfill workers.
type Engine struct {
	DB     *store.DB
	Ledger *heat.Ledger

	provider   SimilarityProvider
	booster    *Booster
	decayer    *DecayEngine
	backfiller *Backfiller
	opts       Options
}

// New creates an Engine over db. A similarity provider must be set with
// SetProvider before Search can answer.
func New(db *store.DB, opts Options) *Engine {
	if opts.Overfetch < 1 {
		opts.Overfetch = 1
	}
	if opts.DefaultLimit < 1 {
		opts.DefaultLimit = 10
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}

	ledger := heat.NewLedger(db, opts.Policy)
	return &Engine{
		DB:         db,
		Ledger:     ledger,
		booster:    NewBooster(ledger),
		decayer:    NewDecayEngine(db, ledger, opts.DecayInterval),
		backfiller: NewBackfiller(db, ledger),
		opts:       opts,
	}
}

// SetProvider configures the similarity provider.
func (e *Engine) SetProvider(p SimilarityProvider) {
	e.provider = p
}

// SetClock replaces the time source used for all heat bookkeeping.
func (e *Engine) SetClock(now func() time.Time) {
	e.Ledger.SetClock(now)
}

// Options returns the engine's tuning.
func (e *Engine) Options() Options {
	return e.opts
}

// StartDecay runs a decay sweep now and then on every decay interval.
func (e *Engine) StartDecay(ctx context.Context) {
	e.decayer.Start(ctx)
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.decayer.Stop()
}

// missingIndexer is implemented by providers that can catch up on records
// added while they were unavailable.
type missingIndexer interface {
	IndexMissing(ctx context.Context, memories []store.Memory) (int, error)
}

// IndexMissing indexes every memory the similarity provider has no
// embedding for.
func (e *Engine) IndexMissing(ctx context.Context) (n int, err error) {
	ctx, done := e.begin(ctx, "reindex", false)
	defer done(&err)

	idx, ok := e.provider.(missingIndexer)
	if !ok {
		return 0, nil
	}
	memories, err := e.DB.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return idx.IndexMissing(ctx, memories)
}

func (e *Engine) index(ctx context.Context, id, content string) bool {
	idx, ok := e.provider.(Indexer)
	if !ok {
		return false
	}
	if err := idx.Index(ctx, id, content); err != nil {
		slog.Warn("index memory", "id", id, "error", err)
		return false
	}
	return true
}

// begin starts a traced, metered operation. The returned func classifies
// *errp into an engine error and must be deferred. Bulk maintenance runs
// without the per-call timeout.
func (e *Engine) begin(ctx context.Context, op string, timed bool) (context.Context, func(errp *error)) {
	ctx, span := tracer.Start(ctx, "engine."+op, trace.WithSpanKind(trace.SpanKindInternal))
	cancel := context.CancelFunc(func() {})
	if timed && e.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
	}
	start := time.Now()

	return ctx, func(errp *error) {
		cancel()
		*errp = classify(op, *errp)

		outcome := "ok"
		if *errp != nil {
			outcome = string(KindOf(*errp))
			span.RecordError(*errp)
			span.SetStatus(codes.Error, fmt.Sprintf("%s failed", op))
		}
		metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
		metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}
}
