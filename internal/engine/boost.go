package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazypower/ember/internal/heat"
	"github.com/lazypower/ember/internal/metrics"
	"github.com/lazypower/ember/internal/store"
)

// Booster raises heat in response to use: a memory returned to and
// consumed by a caller is accessed, and one referenced by new content is
// mentioned.
type Booster struct {
	ledger *heat.Ledger
}

// NewBooster creates a booster writing through ledger.
func NewBooster(ledger *heat.Ledger) *Booster {
	return &Booster{ledger: ledger}
}

// Accessed applies an access boost to each id.
func (b *Booster) Accessed(ctx context.Context, ids ...string) ([]*store.Memory, error) {
	return b.boost(ctx, heat.Access, ids)
}

// Mentioned applies a mention boost to each id.
func (b *Booster) Mentioned(ctx context.Context, ids ...string) ([]*store.Memory, error) {
	return b.boost(ctx, heat.Mention, ids)
}

// boost applies kind to every id independently. Failures do not stop the
// remaining ids; they are joined into the returned error.
func (b *Booster) boost(ctx context.Context, kind heat.Kind, ids []string) ([]*store.Memory, error) {
	out := make([]*store.Memory, 0, len(ids))
	var errs []error
	for _, id := range ids {
		m, err := b.ledger.Boost(ctx, id, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", kind, id, err))
			continue
		}
		metrics.BoostsTotal.WithLabelValues(string(kind)).Inc()
		out = append(out, m)
	}
	return out, errors.Join(errs...)
}
