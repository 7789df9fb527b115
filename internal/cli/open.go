package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lazypower/ember/internal/engine"
	"github.com/lazypower/ember/internal/store"
)

// app bundles what a command needs to talk to the memory store.
type app struct {
	db     *store.DB
	engine *engine.Engine
	index  *engine.VectorIndex
	cache  *engine.CachedEmbedder
}

func (a *app) Close() {
	a.engine.Stop()
	if a.cache != nil {
		a.cache.Close()
	}
	a.db.Close()
}

// openDB opens the configured database.
func openDB() (*store.DB, string, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, path, nil
}

// openApp opens the database, builds the engine and restores the vector
// index, embedding any memory that has no vector for the current model.
func openApp(ctx context.Context) (*app, error) {
	db, path, err := openDB()
	if err != nil {
		return nil, err
	}
	slog.Debug("database opened", "path", path)

	a := &app{db: db, engine: engine.New(db, cfg.EngineOptions())}

	emb, err := a.embedder(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx, err := engine.NewVectorIndex(emb, db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = idx
	a.engine.SetProvider(idx)

	n, err := idx.Load(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	slog.Debug("vector index loaded", "model", idx.Model(), "documents", n)

	if n, err := a.engine.IndexMissing(ctx); err != nil {
		slog.Warn("index missing", "error", err)
	} else if n > 0 {
		slog.Info("embedded missing memories", "count", n)
	}
	return a, nil
}

// embedder selects the embedding backend: Ollama when configured or
// reachable, otherwise a TF-IDF model built from the stored content.
func (a *app) embedder(ctx context.Context) (engine.Embedder, error) {
	ec := cfg.Embedder

	var emb engine.Embedder
	switch {
	case ec.Provider == "ollama" || (ec.Provider == "auto" && engine.ProbeOllama(ec.OllamaURL, ec.Model)):
		emb = engine.NewOllamaEmbedder(ec.OllamaURL, ec.Model, ec.Dimensions)
		slog.Debug("embedder: ollama", "model", ec.Model)
	default:
		memories, err := a.db.ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("build tfidf vocabulary: %w", err)
		}
		docs := make([]string, len(memories))
		for i, m := range memories {
			docs[i] = m.Content
		}
		emb = engine.NewTFIDFEmbedder(docs, ec.MaxTerms)
		slog.Debug("embedder: tfidf (fallback)", "documents", len(docs))
	}

	if ec.CacheSize <= 0 {
		return emb, nil
	}
	cached, err := engine.NewCachedEmbedder(emb, ec.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	a.cache = cached
	return cached, nil
}
