package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Memory is a single recall unit together with its heat bookkeeping.
// Timestamps are unix milliseconds.
type Memory struct {
	ID           string
	Content      string
	EmbeddingRef string

	Heat          float64
	Pinned        bool
	LastDecayedAt *int64 // nil for legacy records that predate heat

	LastAccessedAt *int64
	AccessCount    int
	MentionCount   int

	Source  string
	Client  string
	Project string

	Version   int64
	CreatedAt int64
	UpdatedAt int64
}

// HasHeat reports whether the record carries native heat data.
func (m *Memory) HasHeat() bool {
	return m.LastDecayedAt != nil
}

// HeatFields is the mutable heat state of a memory. Only the heat ledger
// writes it.
type HeatFields struct {
	Heat           float64
	Pinned         bool
	LastDecayedAt  int64
	LastAccessedAt *int64
	AccessCount    int
	MentionCount   int
}

// Fields returns the record's current heat fields.
// LastDecayedAt is zero for legacy records.
func (m *Memory) Fields() HeatFields {
	f := HeatFields{
		Heat:           m.Heat,
		Pinned:         m.Pinned,
		LastAccessedAt: m.LastAccessedAt,
		AccessCount:    m.AccessCount,
		MentionCount:   m.MentionCount,
	}
	if m.LastDecayedAt != nil {
		f.LastDecayedAt = *m.LastDecayedAt
	}
	return f
}

const memoryColumns = `id, content, embedding_ref, heat, pinned, last_decayed_at,
	last_accessed_at, access_count, mention_count, source, client, project,
	version, created_at, updated_at`

// CreateMemory inserts a new memory with the given initial heat fields.
// An empty ID is replaced by a fresh UUID. A zero CreatedAt is stamped with
// the current time.
func (db *DB) CreateMemory(ctx context.Context, m *Memory, f HeatFields) error {
	now := m.CreatedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.EmbeddingRef == "" {
		m.EmbeddingRef = m.ID
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (id, content, embedding_ref, heat, pinned, last_decayed_at,
			last_accessed_at, access_count, mention_count, source, client, project,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), 1, ?, ?)
	`, m.ID, m.Content, m.EmbeddingRef, f.Heat, boolInt(f.Pinned), f.LastDecayedAt,
		nullableInt(f.LastAccessedAt), f.AccessCount, f.MentionCount,
		m.Source, m.Client, m.Project, now, now)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}

	m.Heat = f.Heat
	m.Pinned = f.Pinned
	lastDecayed := f.LastDecayedAt
	m.LastDecayedAt = &lastDecayed
	m.LastAccessedAt = f.LastAccessedAt
	m.AccessCount = f.AccessCount
	m.MentionCount = f.MentionCount
	m.Version = 1
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

// ImportMemory inserts a record exactly as given, preserving CreatedAt.
// A nil LastDecayedAt stores the record without heat so the backfill
// migrator picks it up. Existing ids are left untouched.
func (db *DB) ImportMemory(ctx context.Context, m *Memory) (bool, error) {
	now := time.Now().UnixMilli()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.EmbeddingRef == "" {
		m.EmbeddingRef = m.ID
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}

	var heat any
	if m.LastDecayedAt != nil {
		heat = m.Heat
	}

	result, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memories (id, content, embedding_ref, heat, pinned, last_decayed_at,
			last_accessed_at, access_count, mention_count, source, client, project,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), 1, ?, ?)
	`, m.ID, m.Content, m.EmbeddingRef, heat, boolInt(m.Pinned), nullableInt(m.LastDecayedAt),
		nullableInt(m.LastAccessedAt), m.AccessCount, m.MentionCount,
		m.Source, m.Client, m.Project, m.CreatedAt, now)
	if err != nil {
		return false, fmt.Errorf("import memory: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, nil
	}
	m.Version = 1
	m.UpdatedAt = now
	return true, nil
}

// GetMemory returns a memory by id, or ErrNotFound.
func (db *DB) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetMemories returns the memories for the given ids keyed by id.
// Unknown ids are absent from the map.
func (db *DB) GetMemories(ctx context.Context, ids []string) (map[string]Memory, error) {
	out := make(map[string]Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`,
		memoryColumns, strings.Join(placeholders, ","))
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range memories {
		out[m.ID] = m
	}
	return out, nil
}

// UpdateHeatFields writes heat fields for one record if its version still
// matches. A stale version returns ErrConflict, an unknown id ErrNotFound.
func (db *DB) UpdateHeatFields(ctx context.Context, id string, version int64, f HeatFields) error {
	now := time.Now().UnixMilli()
	result, err := db.ExecContext(ctx, `
		UPDATE memories SET heat = ?, pinned = ?, last_decayed_at = ?, last_accessed_at = ?,
			access_count = ?, mention_count = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, f.Heat, boolInt(f.Pinned), f.LastDecayedAt, nullableInt(f.LastAccessedAt),
		f.AccessCount, f.MentionCount, now, id, version)
	if err != nil {
		return fmt.Errorf("update heat fields: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update heat fields: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update heat fields: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// ListMissingHeat returns legacy records that have no native heat data,
// oldest first.
func (db *DB) ListMissingHeat(ctx context.Context) ([]Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE heat IS NULL OR last_decayed_at IS NULL
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list missing heat: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// CountMissingHeat returns the number of records awaiting backfill.
func (db *DB) CountMissingHeat(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories WHERE heat IS NULL OR last_decayed_at IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count missing heat: %w", err)
	}
	return n, nil
}

// ListNonPinnedIDs returns the ids the decay sweep visits: heat-bearing,
// non-pinned records.
func (db *DB) ListNonPinnedIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE pinned = 0 AND heat IS NOT NULL AND last_decayed_at IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list non-pinned: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListHeated returns every record that carries native heat data.
func (db *DB) ListHeated(ctx context.Context) ([]Memory, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE heat IS NOT NULL AND last_decayed_at IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list heated: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListAll returns every record ordered by creation time.
func (db *DB) ListAll(ctx context.Context) ([]Memory, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var pinned int
	var embeddingRef, source, client, project sql.NullString
	var heat sql.NullFloat64
	var lastDecayed, lastAccessed sql.NullInt64
	if err := row.Scan(&m.ID, &m.Content, &embeddingRef, &heat, &pinned, &lastDecayed,
		&lastAccessed, &m.AccessCount, &m.MentionCount, &source, &client, &project,
		&m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.EmbeddingRef = embeddingRef.String
	m.Source = source.String
	m.Client = client.String
	m.Project = project.String
	m.Pinned = pinned != 0
	if heat.Valid && lastDecayed.Valid {
		m.Heat = heat.Float64
		m.LastDecayedAt = &lastDecayed.Int64
	}
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Int64
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
