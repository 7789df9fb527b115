package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lazypower/ember/internal/metrics"
	"github.com/lazypower/ember/internal/store"
)

// Match is one similarity candidate. Similarity is in [0, 1].
type Match struct {
	ID         string
	Similarity float64
}

// SimilarityProvider returns memories similar to a query, best first.
// An empty result with a nil error means nothing matched.
type SimilarityProvider interface {
	Query(ctx context.Context, text string, limit int) ([]Match, error)
}

// Indexer accepts new content into a similarity provider.
type Indexer interface {
	Index(ctx context.Context, id, content string) error
}

// VectorStore persists embeddings between runs.
type VectorStore interface {
	SaveVector(ctx context.Context, memoryID string, embedding []float32, model string) error
	AllVectors(ctx context.Context, model string) ([]store.VectorRecord, error)
}

// VectorIndex is an in-process vector index. Embeddings are computed by an
// Embedder, persisted through a VectorStore and searched with chromem.
type VectorIndex struct {
	embedder Embedder
	vectors  VectorStore
	col      *chromem.Collection
}

// NewVectorIndex creates an empty index. Call Load to restore persisted
// embeddings.
func NewVectorIndex(embedder Embedder, vectors VectorStore) (*VectorIndex, error) {
	db := chromem.NewDB()
	// Embeddings are always supplied, so no embedding func is needed.
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &VectorIndex{embedder: embedder, vectors: vectors, col: col}, nil
}

// Model returns the embedding model the index is built for.
func (x *VectorIndex) Model() string {
	return x.embedder.Model()
}

// Count returns the number of indexed documents.
func (x *VectorIndex) Count() int {
	return x.col.Count()
}

// Load adds every persisted embedding for the current model to the index.
func (x *VectorIndex) Load(ctx context.Context) (int, error) {
	records, err := x.vectors.AllVectors(ctx, x.embedder.Model())
	if err != nil {
		return 0, fmt.Errorf("load vectors: %w", err)
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if isZero(r.Embedding) {
			continue
		}
		docs = append(docs, chromem.Document{ID: r.MemoryID, Embedding: r.Embedding})
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := x.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("index vectors: %w", err)
	}
	metrics.IndexedDocuments.Set(float64(x.col.Count()))
	return len(docs), nil
}

// Index embeds content, persists the embedding and adds it to the index.
func (x *VectorIndex) Index(ctx context.Context, id, content string) error {
	vec, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed %s: %w", id, err)
	}
	if err := x.vectors.SaveVector(ctx, id, vec, x.embedder.Model()); err != nil {
		return err
	}
	if isZero(vec) {
		return nil
	}
	if err := x.col.AddDocument(ctx, chromem.Document{ID: id, Embedding: vec}); err != nil {
		return fmt.Errorf("index %s: %w", id, err)
	}
	metrics.IndexedDocuments.Set(float64(x.col.Count()))
	return nil
}

// IndexMissing indexes every memory that has no embedding for the current
// model. Per-record failures are logged and skipped.
func (x *VectorIndex) IndexMissing(ctx context.Context, memories []store.Memory) (int, error) {
	existing, err := x.vectors.AllVectors(ctx, x.embedder.Model())
	if err != nil {
		return 0, fmt.Errorf("list vectors: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, v := range existing {
		have[v.MemoryID] = true
	}

	indexed := 0
	for _, m := range memories {
		if have[m.ID] || m.Content == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := x.Index(ctx, m.ID, m.Content); err != nil {
			slog.Warn("index missing", "id", m.ID, "error", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}

// Query embeds text and returns up to limit nearest memories.
func (x *VectorIndex) Query(ctx context.Context, text string, limit int) ([]Match, error) {
	n := min(limit, x.col.Count())
	if n <= 0 {
		return nil, nil
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if isZero(vec) {
		return nil, nil
	}

	results, err := x.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		matches = append(matches, Match{ID: r.ID, Similarity: min(1, max(0, sim))})
	}
	return matches, nil
}
