package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/ember/internal/heat"
	"github.com/lazypower/ember/internal/store"
)

// MemoryView is a memory as presented to callers. Heat is the current
// value at the time of the call.
type MemoryView struct {
	ID             string     `json:"id"`
	ContentRef     string     `json:"content_ref"`
	Content        string     `json:"content"`
	Heat           float64    `json:"heat"`
	Pinned         bool       `json:"pinned"`
	AccessCount    int        `json:"access_count"`
	MentionCount   int        `json:"mention_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	LastDecayedAt  *time.Time `json:"last_decayed_at,omitempty"`
	Source         string     `json:"source,omitempty"`
	Client         string     `json:"client,omitempty"`
	Project        string     `json:"project,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func viewOf(m *store.Memory, h float64) MemoryView {
	return MemoryView{
		ID:             m.ID,
		ContentRef:     m.EmbeddingRef,
		Content:        m.Content,
		Heat:           h,
		Pinned:         m.Pinned,
		AccessCount:    m.AccessCount,
		MentionCount:   m.MentionCount,
		LastAccessedAt: msTime(m.LastAccessedAt),
		LastDecayedAt:  msTime(m.LastDecayedAt),
		Source:         m.Source,
		Client:         m.Client,
		Project:        m.Project,
		CreatedAt:      time.UnixMilli(m.CreatedAt).UTC(),
	}
}

func msTime(p *int64) *time.Time {
	if p == nil {
		return nil
	}
	t := time.UnixMilli(*p).UTC()
	return &t
}

// AddRequest describes a new memory.
type AddRequest struct {
	Content string
	Source  string
	Client  string
	Project string
	Pinned  bool
	// Mentions are existing memory ids the new content references; each
	// receives a mention boost.
	Mentions []string
}

// Add stores a new memory at neutral heat (ceiling when pinned) and indexes
// it. An indexing failure does not fail the call; the record is picked up
// by the next IndexMissing.
func (e *Engine) Add(ctx context.Context, req AddRequest) (_ *MemoryView, err error) {
	ctx, done := e.begin(ctx, "add", true)
	defer done(&err)

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, invalidArg("add", "content is required")
	}

	mentions := uniq(req.Mentions)
	if len(mentions) > 0 {
		known, err := e.DB.GetMemories(ctx, mentions)
		if err != nil {
			return nil, err
		}
		for _, id := range mentions {
			if _, ok := known[id]; !ok {
				return nil, invalidArg("add", "mentioned memory %q does not exist", id)
			}
		}
	}

	// Age and decay are measured on the same clock.
	fields := e.Ledger.Initial(req.Pinned)
	m := &store.Memory{
		Content:   content,
		Source:    req.Source,
		Client:    req.Client,
		Project:   req.Project,
		CreatedAt: fields.LastDecayedAt,
	}
	if err := e.DB.CreateMemory(ctx, m, fields); err != nil {
		return nil, err
	}
	e.index(ctx, m.ID, m.Content)

	if len(mentions) > 0 {
		if _, err := e.booster.Mentioned(ctx, mentions...); err != nil {
			slog.Warn("mention boost", "id", m.ID, "error", err)
		}
	}

	v := viewOf(m, m.Heat)
	return &v, nil
}

// Get returns a memory with its heat caught up to now.
func (e *Engine) Get(ctx context.Context, id string) (_ *MemoryView, err error) {
	ctx, done := e.begin(ctx, "get", true)
	defer done(&err)

	if id == "" {
		return nil, invalidArg("get", "id is required")
	}
	m, err := e.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := viewOf(m, m.Heat)
	return &v, nil
}

// Pin holds a memory at the ceiling and exempts it from decay.
func (e *Engine) Pin(ctx context.Context, id string) (_ *MemoryView, err error) {
	ctx, done := e.begin(ctx, "pin", true)
	defer done(&err)

	if id == "" {
		return nil, invalidArg("pin", "id is required")
	}
	m, err := e.Ledger.Pin(ctx, id)
	if err != nil {
		return nil, err
	}
	v := viewOf(m, m.Heat)
	return &v, nil
}

// Unpin releases a pinned memory; decay resumes from now.
func (e *Engine) Unpin(ctx context.Context, id string) (_ *MemoryView, err error) {
	ctx, done := e.begin(ctx, "unpin", true)
	defer done(&err)

	if id == "" {
		return nil, invalidArg("unpin", "id is required")
	}
	m, err := e.Ledger.Unpin(ctx, id)
	if err != nil {
		return nil, err
	}
	v := viewOf(m, m.Heat)
	return &v, nil
}

// Access records that a caller consumed a memory.
func (e *Engine) Access(ctx context.Context, id string) (*MemoryView, error) {
	return e.boostOne(ctx, "access", heat.Access, id)
}

// Mention records that a memory was referenced by other content.
func (e *Engine) Mention(ctx context.Context, id string) (*MemoryView, error) {
	return e.boostOne(ctx, "mention", heat.Mention, id)
}

func (e *Engine) boostOne(ctx context.Context, op string, kind heat.Kind, id string) (_ *MemoryView, err error) {
	ctx, done := e.begin(ctx, op, true)
	defer done(&err)

	if id == "" {
		return nil, invalidArg(op, "id is required")
	}
	boosted, err := e.booster.boost(ctx, kind, []string{id})
	if err != nil {
		return nil, err
	}
	v := viewOf(boosted[0], boosted[0].Heat)
	return &v, nil
}

type projected struct {
	m    *store.Memory
	heat float64
}

func (e *Engine) project(memories []store.Memory, now time.Time) []projected {
	out := make([]projected, len(memories))
	for i := range memories {
		out[i] = projected{m: &memories[i], heat: e.opts.Policy.Project(&memories[i], now)}
	}
	return out
}

// WhatsHot returns the memories with the highest current heat, pinned
// memories included. Ties go to the most recently accessed, then to the
// smaller id.
func (e *Engine) WhatsHot(ctx context.Context, limit int) (_ []MemoryView, err error) {
	ctx, done := e.begin(ctx, "hot", true)
	defer done(&err)

	limit, err = e.limit("hot", limit)
	if err != nil {
		return nil, err
	}
	memories, err := e.DB.ListHeated(ctx)
	if err != nil {
		return nil, err
	}

	entries := e.project(memories, e.Ledger.Now())
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.heat != b.heat {
			return a.heat > b.heat
		}
		if la, lb := deref(a.m.LastAccessedAt), deref(b.m.LastAccessedAt); la != lb {
			return la > lb
		}
		return a.m.ID < b.m.ID
	})
	return views(entries, limit), nil
}

// WhatsCold returns the non-pinned memories at least minAgeDays old with
// the lowest current heat: candidates for review or archival. Ties go to
// the older memory, then to the smaller id.
func (e *Engine) WhatsCold(ctx context.Context, limit int, minAgeDays float64) (_ []MemoryView, err error) {
	ctx, done := e.begin(ctx, "cold", true)
	defer done(&err)

	limit, err = e.limit("cold", limit)
	if err != nil {
		return nil, err
	}
	if minAgeDays < 0 {
		return nil, invalidArg("cold", "min_age_days must be >= 0, got %g", minAgeDays)
	}
	memories, err := e.DB.ListHeated(ctx)
	if err != nil {
		return nil, err
	}

	now := e.Ledger.Now()
	var entries []projected
	for _, p := range e.project(memories, now) {
		if p.m.Pinned || heat.ElapsedDays(p.m.CreatedAt, now.UnixMilli()) < minAgeDays {
			continue
		}
		entries = append(entries, p)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.heat != b.heat {
			return a.heat < b.heat
		}
		if a.m.CreatedAt != b.m.CreatedAt {
			return a.m.CreatedAt < b.m.CreatedAt
		}
		return a.m.ID < b.m.ID
	})
	return views(entries, limit), nil
}

func views(entries []projected, limit int) []MemoryView {
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]MemoryView, len(entries))
	for i, p := range entries {
		out[i] = viewOf(p.m, p.heat)
	}
	return out
}

// Stats summarizes the heat distribution.
type Stats struct {
	Total    int     `json:"total"`
	Hot      int     `json:"hot_count"`
	Warm     int     `json:"warm_count"`
	Cold     int     `json:"cold_count"`
	Pinned   int     `json:"pinned_count"`
	Legacy   int     `json:"legacy_count"` // awaiting backfill, not banded
	MeanHeat float64 `json:"mean_heat"`
}

// Stats counts memories per heat band using current heat. Pinned memories
// are banded like any other and also counted separately.
func (e *Engine) Stats(ctx context.Context) (_ *Stats, err error) {
	ctx, done := e.begin(ctx, "stats", true)
	defer done(&err)

	memories, err := e.DB.ListHeated(ctx)
	if err != nil {
		return nil, err
	}
	legacy, err := e.DB.CountMissingHeat(ctx)
	if err != nil {
		return nil, err
	}

	now := e.Ledger.Now()
	s := &Stats{Total: len(memories) + legacy, Legacy: legacy}
	var sum float64
	for i := range memories {
		m := &memories[i]
		if m.Pinned {
			s.Pinned++
		}
		h := e.opts.Policy.Project(m, now)
		sum += h
		switch e.opts.Bands.Classify(h) {
		case heat.Hot:
			s.Hot++
		case heat.Warm:
			s.Warm++
		default:
			s.Cold++
		}
	}
	if len(memories) > 0 {
		s.MeanHeat = sum / float64(len(memories))
	}
	return s, nil
}

// ImportRecord is a memory carried over from another system. Imported
// records have no heat until the backfill migrator seeds them.
type ImportRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Client    string    `json:"client,omitempty"`
	Project   string    `json:"project,omitempty"`
	Pinned    bool      `json:"pinned,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ImportReport summarizes an import.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Indexed  int `json:"indexed"`
}

// Import stores legacy records as given. Records whose id already exists
// are skipped. Every record is validated before anything is written.
func (e *Engine) Import(ctx context.Context, records []ImportRecord) (_ *ImportReport, err error) {
	ctx, done := e.begin(ctx, "import", false)
	defer done(&err)

	for i, r := range records {
		if strings.TrimSpace(r.Content) == "" {
			return nil, invalidArg("import", "record %d: content is required", i)
		}
	}

	report := &ImportReport{}
	for _, r := range records {
		m := &store.Memory{
			ID:      r.ID,
			Content: strings.TrimSpace(r.Content),
			Pinned:  r.Pinned,
			Source:  r.Source,
			Client:  r.Client,
			Project: r.Project,
		}
		if !r.CreatedAt.IsZero() {
			m.CreatedAt = r.CreatedAt.UnixMilli()
		}
		inserted, err := e.DB.ImportMemory(ctx, m)
		if err != nil {
			return report, err
		}
		if !inserted {
			report.Skipped++
			continue
		}
		report.Imported++
		if e.index(ctx, m.ID, m.Content) {
			report.Indexed++
		}
	}
	return report, nil
}

// Decay runs one decay sweep now. Per-record failures surface as a
// partial failure alongside the report.
func (e *Engine) Decay(ctx context.Context) (_ *SweepReport, err error) {
	ctx, done := e.begin(ctx, "decay", false)
	defer done(&err)

	report, err := e.decayer.Sweep(ctx)
	if err != nil {
		return &report, err
	}
	if report.Failed > 0 {
		return &report, partialFailure("decay", report.Failures)
	}
	return &report, nil
}

// Backfill seeds heat for every legacy record. Per-record failures surface
// as a partial failure alongside the report.
func (e *Engine) Backfill(ctx context.Context) (_ *BackfillReport, err error) {
	ctx, done := e.begin(ctx, "backfill", false)
	defer done(&err)

	report, err := e.backfiller.Run(ctx)
	if err != nil {
		return &report, err
	}
	if report.Failed > 0 {
		return &report, partialFailure("backfill", report.Failures)
	}
	return &report, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
