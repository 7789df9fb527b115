package heat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/ember/internal/store"
)

const day = 24 * time.Hour

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLedger(t *testing.T) (*Ledger, *store.DB, *testClock) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	l := NewLedger(db, DefaultPolicy())
	l.SetClock(clock.Now)
	return l, db, clock
}

func seedMemory(t *testing.T, db *store.DB, f store.HeatFields) string {
	t.Helper()
	m := &store.Memory{Content: "prefers tabs"}
	require.NoError(t, db.CreateMemory(context.Background(), m, f))
	return m.ID
}

func TestLedgerInitial(t *testing.T) {
	l, _, clock := testLedger(t)
	f := l.Initial(false)
	assert.Equal(t, 1.0, f.Heat)
	assert.False(t, f.Pinned)
	assert.Equal(t, clock.Now().UnixMilli(), f.LastDecayedAt)

	pinned := l.Initial(true)
	assert.Equal(t, 2.0, pinned.Heat)
	assert.True(t, pinned.Pinned)
}

func TestLedgerHeatCatchesUp(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	clock.Advance(10 * day)
	h, err := l.Heat(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.737, h, 0.001)

	stored, err := db.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UnixMilli(), *stored.LastDecayedAt)
}

func TestLedgerApplyDecay(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	clock.Advance(10 * day)
	m, err := l.ApplyDecay(ctx, id, clock.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.737, m.Heat, 0.001)
	assert.Equal(t, clock.Now().UnixMilli(), *m.LastDecayedAt)

	h, err := l.Heat(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.737, h, 0.001)
}

func TestLedgerApplyDecayIdempotent(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	clock.Advance(3 * day)
	first, err := l.ApplyDecay(ctx, id, clock.Now())
	require.NoError(t, err)
	second, err := l.ApplyDecay(ctx, id, clock.Now())
	require.NoError(t, err)

	assert.Equal(t, first.Heat, second.Heat)
	assert.Equal(t, first.Version, second.Version, "no-op catch-up must not write")

	// An older asOf never rewinds the record.
	third, err := l.ApplyDecay(ctx, id, clock.Now().Add(-day))
	require.NoError(t, err)
	assert.Equal(t, first.Heat, third.Heat)
}

func TestLedgerDecayStepsMatchSingleCatchUp(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	stepped := seedMemory(t, db, l.Initial(false))
	single := seedMemory(t, db, l.Initial(false))
	start := clock.Now()

	for i := 0; i < 5; i++ {
		clock.Advance(day)
		_, err := l.ApplyDecay(ctx, stepped, clock.Now())
		require.NoError(t, err)
	}
	_, err := l.ApplyDecay(ctx, single, start.Add(5*day))
	require.NoError(t, err)

	a, _ := l.Heat(ctx, stepped)
	b, _ := l.Heat(ctx, single)
	assert.InDelta(t, b, a, 1e-9)
}

func TestLedgerAccessBoost(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, store.HeatFields{Heat: 0.5, LastDecayedAt: clock.Now().UnixMilli()})

	m, err := l.Boost(ctx, id, Access)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, m.Heat, 1e-9)
	assert.Equal(t, 1, m.AccessCount)
	require.NotNil(t, m.LastAccessedAt)
	assert.Equal(t, clock.Now().UnixMilli(), *m.LastAccessedAt)

	stored, err := db.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, stored.Heat, 1e-9)
	assert.Equal(t, 1, stored.AccessCount)
}

func TestLedgerMentionBoost(t *testing.T) {
	l, db, _ := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	m, err := l.Boost(ctx, id, Mention)
	require.NoError(t, err)
	assert.InDelta(t, 1.10, m.Heat, 1e-9)
	assert.Equal(t, 1, m.MentionCount)
	assert.Equal(t, 0, m.AccessCount)
	assert.Nil(t, m.LastAccessedAt)
}

func TestLedgerBoostClampsAtCeiling(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, store.HeatFields{Heat: 1.95, LastDecayedAt: clock.Now().UnixMilli()})

	m, err := l.Boost(ctx, id, Access)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Heat)
}

func TestLedgerBoostCatchesUpFirst(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	clock.Advance(10 * day)
	m, err := l.Boost(ctx, id, Access)
	require.NoError(t, err)
	assert.InDelta(t, DefaultPolicy().Decay(1.0, 10)+0.15, m.Heat, 1e-9)
	assert.Equal(t, clock.Now().UnixMilli(), *m.LastDecayedAt)
}

func TestLedgerPinnedIgnoresDecayAndBoost(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	m, err := l.Pin(ctx, id)
	require.NoError(t, err)
	assert.True(t, m.Pinned)
	assert.Equal(t, 2.0, m.Heat)

	clock.Advance(30 * day)
	m, err = l.ApplyDecay(ctx, id, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Heat)

	m, err = l.Boost(ctx, id, Access)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Heat)
	assert.Equal(t, 1, m.AccessCount)
}

func TestLedgerPinIdempotent(t *testing.T) {
	l, db, _ := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	first, err := l.Pin(ctx, id)
	require.NoError(t, err)
	second, err := l.Pin(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
}

func TestLedgerUnpinResumesDecayFromNow(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, l.Initial(false))

	_, err := l.Pin(ctx, id)
	require.NoError(t, err)

	clock.Advance(60 * day)
	m, err := l.Unpin(ctx, id)
	require.NoError(t, err)
	assert.False(t, m.Pinned)
	assert.Equal(t, 2.0, m.Heat)
	assert.Equal(t, clock.Now().UnixMilli(), *m.LastDecayedAt)

	// The pinned period does not count as elapsed time.
	m, err = l.ApplyDecay(ctx, id, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Heat)

	clock.Advance(day)
	m, err = l.ApplyDecay(ctx, id, clock.Now())
	require.NoError(t, err)
	assert.InDelta(t, 2.0*0.97, m.Heat, 1e-9)
}

func TestLedgerUnpinUnpinnedIsNoop(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, store.HeatFields{Heat: 0.8, LastDecayedAt: clock.Now().UnixMilli()})

	clock.Advance(day)
	m, err := l.Unpin(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, m.Heat)
	assert.Equal(t, int64(1), m.Version)
}

func TestLedgerNotFound(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	_, err := l.Boost(ctx, "missing", Access)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = l.Pin(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = l.Heat(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLedgerLegacyNeedsBackfill(t *testing.T) {
	l, db, _ := testLedger(t)
	ctx := context.Background()
	_, err := db.ImportMemory(ctx, &store.Memory{ID: "legacy", Content: "old"})
	require.NoError(t, err)

	_, err = l.Heat(ctx, "legacy")
	assert.ErrorIs(t, err, ErrNeedsBackfill)
	_, err = l.Boost(ctx, "legacy", Access)
	assert.ErrorIs(t, err, ErrNeedsBackfill)
}

func TestLedgerSeed(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()

	created := clock.Now().Add(-200 * day).UnixMilli()
	_, err := db.ImportMemory(ctx, &store.Memory{ID: "ancient", Content: "old", CreatedAt: created})
	require.NoError(t, err)
	recent := clock.Now().Add(-10 * day).UnixMilli()
	_, err = db.ImportMemory(ctx, &store.Memory{ID: "recent", Content: "newer", CreatedAt: recent})
	require.NoError(t, err)

	m, seeded, err := l.Seed(ctx, "ancient", clock.Now())
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Equal(t, 0.05, m.Heat)
	assert.Equal(t, clock.Now().UnixMilli(), *m.LastDecayedAt)

	m, _, err = l.Seed(ctx, "recent", clock.Now())
	require.NoError(t, err)
	assert.InDelta(t, 0.737, m.Heat, 0.001)

	// Seeding again leaves the record alone, even later.
	clock.Advance(5 * day)
	again, seeded, err := l.Seed(ctx, "recent", clock.Now())
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Equal(t, m.Heat, again.Heat)
	assert.Equal(t, m.Version, again.Version)
}

func TestLedgerConcurrentBoostsDoNotLoseUpdates(t *testing.T) {
	l, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, store.HeatFields{Heat: 0.1, LastDecayedAt: clock.Now().UnixMilli()})

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Boost(ctx, id, Mention); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("boost: %v", err)
	}

	m, err := db.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workers, m.MentionCount)
	assert.InDelta(t, 0.1+workers*0.10, m.Heat, 1e-9)
}

// racingStore lands a competing write before the ledger's first update.
type racingStore struct {
	*store.DB
	raced bool
}

func (s *racingStore) UpdateHeatFields(ctx context.Context, id string, version int64, f store.HeatFields) error {
	if !s.raced {
		s.raced = true
		competing := f
		competing.Heat = 1.5
		if err := s.DB.UpdateHeatFields(ctx, id, version, competing); err != nil {
			return err
		}
	}
	return s.DB.UpdateHeatFields(ctx, id, version, f)
}

func TestLedgerRetriesOnConflict(t *testing.T) {
	_, db, clock := testLedger(t)
	ctx := context.Background()
	id := seedMemory(t, db, store.HeatFields{Heat: 1.0, LastDecayedAt: clock.Now().UnixMilli()})

	rs := &racingStore{DB: db}
	l := NewLedger(rs, DefaultPolicy())
	l.SetClock(clock.Now)

	m, err := l.Boost(ctx, id, Access)
	require.NoError(t, err)
	assert.True(t, rs.raced)
	// The retry recomputes from the competing write.
	assert.InDelta(t, 1.65, m.Heat, 1e-9)
}

// conflictStore always reports a stale version.
type conflictStore struct {
	*store.DB
}

func (conflictStore) UpdateHeatFields(context.Context, string, int64, store.HeatFields) error {
	return store.ErrConflict
}

func TestLedgerGivesUpAfterBoundedRetries(t *testing.T) {
	_, db, clock := testLedger(t)
	id := seedMemory(t, db, store.HeatFields{Heat: 1.0, LastDecayedAt: clock.Now().UnixMilli()})

	l := NewLedger(conflictStore{db}, DefaultPolicy())
	_, err := l.Boost(context.Background(), id, Access)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))
}
