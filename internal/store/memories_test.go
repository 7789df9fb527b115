package store

import (
	"context"
	"errors"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestMemory(t *testing.T, db *DB, content string, f HeatFields) *Memory {
	t.Helper()
	m := &Memory{Content: content, Source: "note", Client: "acme", Project: "ember"}
	if err := db.CreateMemory(context.Background(), m, f); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	return m
}

func TestCreateMemory(t *testing.T) {
	db := testDB(t)

	m := createTestMemory(t, db, "Prefers SQLite in WAL mode", HeatFields{Heat: 1.0, LastDecayedAt: 1000})

	if m.ID == "" {
		t.Fatal("expected generated id")
	}
	if m.EmbeddingRef != m.ID {
		t.Errorf("embedding_ref = %q, want %q", m.EmbeddingRef, m.ID)
	}
	if m.Version != 1 {
		t.Errorf("version = %d, want 1", m.Version)
	}

	got, err := db.GetMemory(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != "Prefers SQLite in WAL mode" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Heat != 1.0 {
		t.Errorf("heat = %f, want 1.0", got.Heat)
	}
	if !got.HasHeat() || *got.LastDecayedAt != 1000 {
		t.Errorf("last_decayed_at = %v, want 1000", got.LastDecayedAt)
	}
	if got.Client != "acme" || got.Project != "ember" || got.Source != "note" {
		t.Errorf("tags = %q/%q/%q", got.Source, got.Client, got.Project)
	}
	if got.LastAccessedAt != nil {
		t.Errorf("last_accessed_at = %v, want nil", *got.LastAccessedAt)
	}
}

func TestCreateMemoryKeepsCallerCreatedAt(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m := &Memory{Content: "stamped by the caller", CreatedAt: 5000}
	if err := db.CreateMemory(ctx, m, HeatFields{Heat: 1.0, LastDecayedAt: 5000}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	got, err := db.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.CreatedAt != 5000 || got.UpdatedAt != 5000 {
		t.Errorf("created_at/updated_at = %d/%d, want 5000/5000", got.CreatedAt, got.UpdatedAt)
	}
}

func TestGetMemoryNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetMemory(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateHeatFields(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createTestMemory(t, db, "content", HeatFields{Heat: 1.0, LastDecayedAt: 1000})

	accessed := int64(5000)
	err := db.UpdateHeatFields(ctx, m.ID, m.Version, HeatFields{
		Heat: 1.15, LastDecayedAt: 5000, LastAccessedAt: &accessed, AccessCount: 1,
	})
	if err != nil {
		t.Fatalf("UpdateHeatFields: %v", err)
	}

	got, _ := db.GetMemory(ctx, m.ID)
	if got.Heat != 1.15 {
		t.Errorf("heat = %f, want 1.15", got.Heat)
	}
	if got.AccessCount != 1 {
		t.Errorf("access_count = %d, want 1", got.AccessCount)
	}
	if got.LastAccessedAt == nil || *got.LastAccessedAt != 5000 {
		t.Errorf("last_accessed_at = %v, want 5000", got.LastAccessedAt)
	}
	if got.Version != m.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, m.Version+1)
	}
}

func TestUpdateHeatFieldsConflict(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	m := createTestMemory(t, db, "content", HeatFields{Heat: 1.0, LastDecayedAt: 1000})

	if err := db.UpdateHeatFields(ctx, m.ID, m.Version, HeatFields{Heat: 0.9, LastDecayedAt: 2000}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second writer still holds the old version.
	err := db.UpdateHeatFields(ctx, m.ID, m.Version, HeatFields{Heat: 0.5, LastDecayedAt: 2000})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	got, _ := db.GetMemory(ctx, m.ID)
	if got.Heat != 0.9 {
		t.Errorf("heat = %f, want 0.9 (stale write must not land)", got.Heat)
	}
}

func TestUpdateHeatFieldsNotFound(t *testing.T) {
	db := testDB(t)

	err := db.UpdateHeatFields(context.Background(), "missing", 1, HeatFields{Heat: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestImportMemoryLegacy(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	legacy := &Memory{ID: "legacy-1", Content: "old note", CreatedAt: 42}
	inserted, err := db.ImportMemory(ctx, legacy)
	if err != nil {
		t.Fatalf("ImportMemory: %v", err)
	}
	if !inserted {
		t.Fatal("expected insert")
	}

	got, err := db.GetMemory(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.HasHeat() {
		t.Error("legacy record should not carry heat")
	}
	if got.CreatedAt != 42 {
		t.Errorf("created_at = %d, want 42", got.CreatedAt)
	}

	// Re-import is ignored.
	inserted, err = db.ImportMemory(ctx, &Memory{ID: "legacy-1", Content: "changed"})
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if inserted {
		t.Error("expected re-import to be ignored")
	}

	missing, err := db.ListMissingHeat(ctx)
	if err != nil {
		t.Fatalf("ListMissingHeat: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != "legacy-1" {
		t.Errorf("missing = %+v, want legacy-1", missing)
	}
	if n, _ := db.CountMissingHeat(ctx); n != 1 {
		t.Errorf("CountMissingHeat = %d, want 1", n)
	}
}

func TestListNonPinnedIDs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := createTestMemory(t, db, "a", HeatFields{Heat: 1.0, LastDecayedAt: 1})
	createTestMemory(t, db, "b", HeatFields{Heat: 2.0, Pinned: true, LastDecayedAt: 1})
	db.ImportMemory(ctx, &Memory{ID: "legacy", Content: "c"})

	ids, err := db.ListNonPinnedIDs(ctx)
	if err != nil {
		t.Fatalf("ListNonPinnedIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("ids = %v, want [%s]", ids, a.ID)
	}

	heated, err := db.ListHeated(ctx)
	if err != nil {
		t.Fatalf("ListHeated: %v", err)
	}
	if len(heated) != 2 {
		t.Errorf("heated = %d, want 2", len(heated))
	}
}

func TestGetMemories(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := createTestMemory(t, db, "a", HeatFields{Heat: 1.0, LastDecayedAt: 1})
	b := createTestMemory(t, db, "b", HeatFields{Heat: 1.0, LastDecayedAt: 1})

	got, err := db.GetMemories(ctx, []string{a.ID, b.ID, "missing"})
	if err != nil {
		t.Fatalf("GetMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d memories, want 2", len(got))
	}
	if got[b.ID].Content != "b" {
		t.Errorf("content = %q, want b", got[b.ID].Content)
	}

	empty, err := db.GetMemories(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("GetMemories(nil) = %v, %v", empty, err)
	}
}
