package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/lisq/dbopen"
)

// ErrNotFound is returned when no persistent row exists for a cache key.
var ErrNotFound = errors.New("cache: not found")

// Schema creates the persistent cache tier. Rows are never deleted by the
// cache itself; staleness is judged by cached_at age at read time. The
// cached_at index supports external pruning jobs.
const Schema = `
CREATE TABLE IF NOT EXISTS search_cache (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	search_type   TEXT NOT NULL,
	search_key    TEXT NOT NULL,
	response_json TEXT NOT NULL,
	cached_at     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_search_cache_type_key
	ON search_cache (search_type, search_key);
CREATE INDEX IF NOT EXISTS idx_search_cache_cached_at
	ON search_cache (cached_at);
`

// Store is the persistent cache tier, one row per (search_type, search_key).
type Store struct {
	db *sql.DB
}

// NewStore wraps db. The caller owns the connection lifecycle; open it with
// dbopen.Open and apply Schema via dbopen.WithSchema or Init.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init applies the cache schema. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, s.db, Schema); err != nil {
		return fmt.Errorf("cache: init schema: %w", err)
	}
	return nil
}

// Get returns the stored payload and its fetch time, or ErrNotFound.
func (s *Store) Get(ctx context.Context, searchType, key string) (json.RawMessage, time.Time, error) {
	var payload string
	var cachedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT response_json, cached_at FROM search_cache WHERE search_type = ? AND search_key = ?`,
		searchType, key,
	).Scan(&payload, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("cache: get: %w", err)
	}
	return json.RawMessage(payload), time.Unix(cachedAt, 0).UTC(), nil
}

// Put upserts a payload for (searchType, key), recording at as the fetch
// time. Last writer wins on concurrent puts for the same key; both writers
// hold an idempotent snapshot of the same fetch policy.
func (s *Store) Put(ctx context.Context, searchType, key string, payload json.RawMessage, at time.Time) error {
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO search_cache (search_type, search_key, response_json, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (search_type, search_key)
		 DO UPDATE SET response_json = excluded.response_json, cached_at = excluded.cached_at`,
		searchType, key, string(payload), at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// CachedAt returns the recorded fetch time for (searchType, key), or
// ErrNotFound. Read-only; does not affect cache state.
func (s *Store) CachedAt(ctx context.Context, searchType, key string) (time.Time, error) {
	var cachedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cached_at FROM search_cache WHERE search_type = ? AND search_key = ?`,
		searchType, key,
	).Scan(&cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: cached_at: %w", err)
	}
	return time.Unix(cachedAt, 0).UTC(), nil
}
