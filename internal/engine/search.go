package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lazypower/ember/internal/heat"
	"github.com/lazypower/ember/internal/store"
)

// Result is a single ranked search result.
type Result struct {
	ID         string  `json:"id"`
	ContentRef string  `json:"content_ref"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Heat       float64 `json:"heat"`
}

// Filters narrow search results by exact tag match. Empty fields match all.
type Filters struct {
	Client  string
	Project string
	Source  string
}

func (f Filters) match(m *store.Memory) bool {
	return (f.Client == "" || f.Client == m.Client) &&
		(f.Project == "" || f.Project == m.Project) &&
		(f.Source == "" || f.Source == m.Source)
}

// Search returns up to limit memories ranked by a blend of similarity to
// query and current heat. A limit of 0 uses the default. An empty result
// means nothing matched; an unreachable provider is an error.
//
// When boost-on-search is enabled the returned memories are treated as
// consumed and receive an access boost. Results report the heat they were
// ranked with, before that boost.
func (e *Engine) Search(ctx context.Context, query string, limit int, f Filters) (_ []Result, err error) {
	ctx, done := e.begin(ctx, "search", true)
	defer done(&err)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalidArg("search", "query is required")
	}
	limit, err = e.limit("search", limit)
	if err != nil {
		return nil, err
	}
	if e.provider == nil {
		return nil, errors.New("no similarity provider configured")
	}

	matches, err := e.provider.Query(ctx, query, limit*e.opts.Overfetch)
	if err != nil {
		return nil, fmt.Errorf("similarity provider: %w", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("candidates", len(matches)))

	results := []Result{}
	if len(matches) == 0 {
		return results, nil
	}

	records := make(map[string]*store.Memory, len(matches))
	candidates := make([]Candidate, 0, len(matches))
	for _, match := range matches {
		if _, dup := records[match.ID]; dup {
			continue
		}
		m, err := e.Ledger.Get(ctx, match.ID)
		if errors.Is(err, store.ErrNotFound) {
			// Indexed but no longer stored.
			continue
		}
		if errors.Is(err, heat.ErrNeedsBackfill) {
			slog.Debug("search skipping legacy memory", "id", match.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !f.match(m) {
			continue
		}
		records[m.ID] = m
		candidates = append(candidates, Candidate{
			ID:             m.ID,
			Similarity:     match.Similarity,
			Heat:           m.Heat,
			LastAccessedAt: deref(m.LastAccessedAt),
		})
	}

	ranked := Merge(candidates, e.opts.Weights, e.opts.Policy)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		m := records[r.ID]
		results = append(results, Result{
			ID:         m.ID,
			ContentRef: m.EmbeddingRef,
			Content:    m.Content,
			Score:      r.Score,
			Similarity: r.Similarity,
			Heat:       r.Heat,
		})
		ids = append(ids, m.ID)
	}

	if e.opts.BoostOnSearch && len(ids) > 0 {
		if _, err := e.booster.Accessed(ctx, ids...); err != nil {
			slog.Warn("search access boost", "error", err)
		}
	}
	return results, nil
}

func (e *Engine) limit(op string, limit int) (int, error) {
	switch {
	case limit == 0:
		return e.opts.DefaultLimit, nil
	case limit < 0 || limit > e.opts.MaxLimit:
		return 0, invalidArg(op, "limit must be between 1 and %d, got %d", e.opts.MaxLimit, limit)
	}
	return limit, nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
