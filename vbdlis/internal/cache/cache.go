// Package cache is the two-tier result cache fronting every portal search:
// a short-lived in-memory tier (patrickmn/go-cache) over a persistent SQLite
// tier, with per-key single-flight coalescing so concurrent callers for the
// same key share one fetch. Errors and empty result sets are never cached.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// FetchFunc produces a fresh payload from the portal. empty=true marks a
// successful fetch with no records; such results are returned to the caller
// but written to neither tier, so a later call retries the portal.
type FetchFunc func(ctx context.Context) (payload json.RawMessage, empty bool, err error)

// Cache coordinates the two tiers.
type Cache struct {
	store  *Store
	mem    *gocache.Cache
	group  singleflight.Group
	notify func(string)
	logger *slog.Logger
}

// New creates a Cache over the persistent store. notify receives
// human-readable cache events and may be nil.
func New(store *Store, notify func(string), logger *slog.Logger) *Cache {
	if notify == nil {
		notify = func(string) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		// Per-entry TTLs are set on insert; the defaults only govern the
		// janitor interval and entries added without an explicit TTL.
		mem:    gocache.New(5*time.Minute, 10*time.Minute),
		store:  store,
		notify: notify,
		logger: logger,
	}
}

// GetOrFetch returns the payload for (searchType, key), fetching at most once
// across concurrent callers.
//
// With alwaysRefresh or a non-positive maxAge, fetch always runs and the
// result is written through to the persistent tier only; neither tier is
// read and the in-memory tier is left untouched (it would be bypassed again
// on the next refresh anyway).
//
// Otherwise the in-memory tier is consulted first, then the persistent tier
// (accepted only when younger than maxAge), then fetch.
func (c *Cache) GetOrFetch(ctx context.Context, searchType, key string, maxAge time.Duration, alwaysRefresh bool, fetch FetchFunc) (json.RawMessage, error) {
	if alwaysRefresh || maxAge <= 0 {
		return c.refresh(ctx, searchType, key, fetch)
	}

	ck := cacheKey(searchType, key)
	if v, ok := c.mem.Get(ck); ok {
		c.logger.Debug("cache: memory hit", "type", searchType, "key", key)
		c.notify(fmt.Sprintf("Dùng kết quả đã lưu: %s", key))
		return v.(json.RawMessage), nil
	}

	v, err, _ := c.group.Do(ck, func() (any, error) {
		// A sibling caller may have populated the tier while we queued.
		if v, ok := c.mem.Get(ck); ok {
			return v.(json.RawMessage), nil
		}

		payload, cachedAt, err := c.store.Get(ctx, searchType, key)
		if err == nil {
			if age := time.Since(cachedAt); age <= maxAge {
				c.logger.Debug("cache: persistent hit", "type", searchType, "key", key, "age", age)
				c.notify(fmt.Sprintf("Dùng kết quả đã lưu: %s", key))
				// Hold in memory only for the remaining freshness window,
				// so the memory tier can never outlive maxAge.
				c.mem.Set(ck, payload, maxAge-age)
				return payload, nil
			}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		payload, empty, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if empty {
			c.logger.Debug("cache: empty result, not cached", "type", searchType, "key", key)
			return payload, nil
		}
		if err := c.store.Put(ctx, searchType, key, payload, time.Now()); err != nil {
			// The fetch succeeded; serve it even if persistence failed.
			c.logger.Warn("cache: persist failed", "type", searchType, "key", key, "error", err)
		}
		c.mem.Set(ck, payload, maxAge)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// refresh is the alwaysRefresh path: fetch unconditionally, write through to
// the persistent tier, skip the in-memory tier.
func (c *Cache) refresh(ctx context.Context, searchType, key string, fetch FetchFunc) (json.RawMessage, error) {
	payload, empty, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return payload, nil
	}
	if err := c.store.Put(ctx, searchType, key, payload, time.Now()); err != nil {
		c.logger.Warn("cache: persist failed", "type", searchType, "key", key, "error", err)
	}
	return payload, nil
}

// CachedAt exposes the persistent tier's recorded fetch time for staleness
// display. Returns ErrNotFound when the key was never cached.
func (c *Cache) CachedAt(ctx context.Context, searchType, key string) (time.Time, error) {
	return c.store.CachedAt(ctx, searchType, key)
}

func cacheKey(searchType, key string) string {
	return searchType + "|" + key
}
