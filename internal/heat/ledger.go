package heat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lazypower/ember/internal/store"
)

// ErrNeedsBackfill is returned when a ledger operation touches a legacy
// record that has not been seeded yet.
var ErrNeedsBackfill = errors.New("memory has no heat data; run backfill")

// maxAttempts bounds optimistic retries on a contended record. A conflict
// means another writer landed, so this many concurrent writers on one
// record always finish.
const maxAttempts = 16

// Store is the persistence the ledger needs.
type Store interface {
	GetMemory(ctx context.Context, id string) (*store.Memory, error)
	UpdateHeatFields(ctx context.Context, id string, version int64, f store.HeatFields) error
}

// Ledger applies heat mutations. Every write is a read-modify-write guarded
// by the record's version, so concurrent boosts on one record do not lose
// updates and operations on different records never block each other.
type Ledger struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// NewLedger creates a ledger over s using p.
func NewLedger(s Store, p Policy) *Ledger {
	return &Ledger{store: s, policy: p, now: time.Now}
}

// SetClock replaces the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Policy returns the ledger's heat constants.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Initial returns the heat fields for a memory created now.
func (l *Ledger) Initial(pinned bool) store.HeatFields {
	f := store.HeatFields{
		Heat:          l.policy.Neutral,
		Pinned:        pinned,
		LastDecayedAt: l.now().UnixMilli(),
	}
	if pinned {
		f.Heat = l.policy.Ceiling
	}
	return f
}

// Get catches the record up to now and returns it.
func (l *Ledger) Get(ctx context.Context, id string) (*store.Memory, error) {
	return l.ApplyDecay(ctx, id, l.now())
}

// Heat returns the current heat of a memory, first applying any owed decay.
func (l *Ledger) Heat(ctx context.Context, id string) (float64, error) {
	m, err := l.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.Heat, nil
}

// ApplyDecay catches the record up to asOf. Pinned records and records
// already decayed to asOf or later are left untouched, which makes repeated
// calls with the same asOf idempotent.
func (l *Ledger) ApplyDecay(ctx context.Context, id string, asOf time.Time) (*store.Memory, error) {
	return l.mutate(ctx, id, func(m *store.Memory) (store.HeatFields, bool) {
		return l.decayFields(m, asOf.UnixMilli())
	})
}

// Boost catches the record up to now, then raises its heat by the kind's
// delta. Pinned records stay at the ceiling but their counters advance.
func (l *Ledger) Boost(ctx context.Context, id string, kind Kind) (*store.Memory, error) {
	return l.mutate(ctx, id, func(m *store.Memory) (store.HeatFields, bool) {
		nowMs := l.now().UnixMilli()
		f, _ := l.decayFields(m, nowMs)

		if f.Pinned {
			f.Heat = l.policy.Ceiling
		} else {
			f.Heat = l.policy.Boost(f.Heat, kind)
		}

		switch kind {
		case Mention:
			f.MentionCount++
		default:
			f.AccessCount++
			f.LastAccessedAt = &nowMs
		}
		return f, true
	})
}

// Pin forces the record to the ceiling and exempts it from decay.
func (l *Ledger) Pin(ctx context.Context, id string) (*store.Memory, error) {
	return l.mutate(ctx, id, func(m *store.Memory) (store.HeatFields, bool) {
		f := m.Fields()
		if m.Pinned && m.Heat == l.policy.Ceiling {
			return f, false
		}
		f.Pinned = true
		f.Heat = l.policy.Ceiling
		return f, true
	})
}

// Unpin releases a pinned record. Heat stays at the ceiling and decay
// resumes from now, so the pinned period never counts as elapsed time.
// Unpinning an unpinned record is a no-op.
func (l *Ledger) Unpin(ctx context.Context, id string) (*store.Memory, error) {
	return l.mutate(ctx, id, func(m *store.Memory) (store.HeatFields, bool) {
		f := m.Fields()
		if !m.Pinned {
			return f, false
		}
		f.Pinned = false
		f.Heat = l.policy.Ceiling
		if nowMs := l.now().UnixMilli(); nowMs > f.LastDecayedAt {
			f.LastDecayedAt = nowMs
		}
		return f, true
	})
}

// Seed initializes heat for a legacy record from its age at asOf. Records
// that already carry heat are returned unchanged, so seeding is idempotent.
func (l *Ledger) Seed(ctx context.Context, id string, asOf time.Time) (*store.Memory, bool, error) {
	seeded := false
	m, err := l.mutateRaw(ctx, id, false, func(m *store.Memory) (store.HeatFields, bool) {
		seeded = false
		f := m.Fields()
		if m.HasHeat() {
			return f, false
		}
		asOfMs := asOf.UnixMilli()
		if m.Pinned {
			f.Heat = l.policy.Ceiling
		} else {
			f.Heat = l.policy.Backfill(ElapsedDays(m.CreatedAt, asOfMs))
		}
		f.LastDecayedAt = asOfMs
		seeded = true
		return f, true
	})
	if err != nil {
		return nil, false, err
	}
	return m, seeded, nil
}

// decayFields computes the caught-up fields of m at asOfMs. The bool
// reports whether anything changed.
func (l *Ledger) decayFields(m *store.Memory, asOfMs int64) (store.HeatFields, bool) {
	f := m.Fields()
	if m.Pinned {
		if f.Heat != l.policy.Ceiling {
			f.Heat = l.policy.Ceiling
			return f, true
		}
		return f, false
	}
	if asOfMs <= f.LastDecayedAt {
		return f, false
	}
	f.Heat = l.policy.Decay(f.Heat, ElapsedDays(f.LastDecayedAt, asOfMs))
	f.LastDecayedAt = asOfMs
	return f, true
}

// mutate runs fn against heat-bearing records only.
func (l *Ledger) mutate(ctx context.Context, id string, fn func(*store.Memory) (store.HeatFields, bool)) (*store.Memory, error) {
	return l.mutateRaw(ctx, id, true, fn)
}

// mutateRaw reads the record, computes new fields and writes them back at
// the version it read. A version conflict re-reads and recomputes.
func (l *Ledger) mutateRaw(ctx context.Context, id string, needHeat bool, fn func(*store.Memory) (store.HeatFields, bool)) (*store.Memory, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := l.store.GetMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if needHeat && !m.HasHeat() {
			return nil, fmt.Errorf("%s: %w", id, ErrNeedsBackfill)
		}

		f, changed := fn(m)
		if !changed {
			return m, nil
		}

		err = l.store.UpdateHeatFields(ctx, id, m.Version, f)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		apply(m, f)
		return m, nil
	}
	return nil, fmt.Errorf("%s: %w after %d attempts", id, store.ErrConflict, maxAttempts)
}

func apply(m *store.Memory, f store.HeatFields) {
	m.Heat = f.Heat
	m.Pinned = f.Pinned
	lastDecayed := f.LastDecayedAt
	m.LastDecayedAt = &lastDecayed
	m.LastAccessedAt = f.LastAccessedAt
	m.AccessCount = f.AccessCount
	m.MentionCount = f.MentionCount
	m.Version++
}
