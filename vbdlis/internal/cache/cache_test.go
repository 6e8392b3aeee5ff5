package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/lisq/dbopen"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(NewStore(db), nil, slog.New(slog.DiscardHandler))
}

func countingFetch(n *atomic.Int32, payload string, empty bool, err error) FetchFunc {
	return func(ctx context.Context) (json.RawMessage, bool, error) {
		n.Add(1)
		if err != nil {
			return nil, false, err
		}
		return json.RawMessage(payload), empty, nil
	}
}

func TestFreshPersistentHitSkipsFetch(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	if err := c.store.Put(ctx, "giayto", "AB 123", json.RawMessage(`{"recordsTotal":1}`), time.Now()); err != nil {
		t.Fatal(err)
	}

	var fetches atomic.Int32
	got, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false,
		countingFetch(&fetches, `{"fresh":true}`, false, nil))
	if err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 0 {
		t.Fatalf("fetch ran %d times on a fresh persistent hit, want 0", fetches.Load())
	}
	if string(got) != `{"recordsTotal":1}` {
		t.Fatalf("payload = %s", got)
	}
}

func TestStalePersistentEntryRefetches(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	stale := time.Now().Add(-2 * time.Hour)
	if err := c.store.Put(ctx, "giayto", "AB 123", json.RawMessage(`{"old":true}`), stale); err != nil {
		t.Fatal(err)
	}

	var fetches atomic.Int32
	got, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false,
		countingFetch(&fetches, `{"new":true}`, false, nil))
	if err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 1 {
		t.Fatalf("fetch ran %d times on a stale entry, want 1", fetches.Load())
	}
	if string(got) != `{"new":true}` {
		t.Fatalf("payload = %s", got)
	}

	stored, cachedAt, err := c.store.Get(ctx, "giayto", "AB 123")
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != `{"new":true}` {
		t.Fatalf("persistent tier holds %s after refetch", stored)
	}
	if !cachedAt.After(stale) {
		t.Fatal("cached_at was not advanced")
	}
}

func TestAlwaysRefreshFetchesAndWritesThrough(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	// Populate both tiers with an old value.
	if err := c.store.Put(ctx, "giayto", "AB 123", json.RawMessage(`{"old":true}`), time.Now()); err != nil {
		t.Fatal(err)
	}
	c.mem.Set(cacheKey("giayto", "AB 123"), json.RawMessage(`{"old":true}`), time.Hour)

	var fetches atomic.Int32
	got, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, true,
		countingFetch(&fetches, `{"new":true}`, false, nil))
	if err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 1 {
		t.Fatalf("fetch ran %d times with alwaysRefresh, want 1", fetches.Load())
	}
	if string(got) != `{"new":true}` {
		t.Fatalf("payload = %s", got)
	}

	stored, _, err := c.store.Get(ctx, "giayto", "AB 123")
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != `{"new":true}` {
		t.Fatalf("persistent tier holds %s, want write-through", stored)
	}

	// The refresh path must not touch the memory tier.
	if v, ok := c.mem.Get(cacheKey("giayto", "AB 123")); !ok || string(v.(json.RawMessage)) != `{"old":true}` {
		t.Fatalf("memory tier changed by refresh path: %v", v)
	}
}

func TestZeroMaxAgeBehavesLikeRefresh(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	if err := c.store.Put(ctx, "giayto", "AB 123", json.RawMessage(`{"old":true}`), time.Now()); err != nil {
		t.Fatal(err)
	}

	var fetches atomic.Int32
	got, err := c.GetOrFetch(ctx, "giayto", "AB 123", 0, false,
		countingFetch(&fetches, `{"new":true}`, false, nil))
	if err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 1 || string(got) != `{"new":true}` {
		t.Fatalf("fetches=%d payload=%s", fetches.Load(), got)
	}
}

func TestConcurrentCallersCollapseToOneFetch(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	var fetches atomic.Int32
	slow := func(fctx context.Context) (json.RawMessage, bool, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond)
		return json.RawMessage(`{"shared":true}`), false, nil
	}

	const callers = 10
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false, slow)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = string(got)
		}()
	}
	wg.Wait()

	if fetches.Load() != 1 {
		t.Fatalf("fetch ran %d times for %d concurrent callers, want 1", fetches.Load(), callers)
	}
	for i, r := range results {
		if r != `{"shared":true}` {
			t.Fatalf("caller %d got %s", i, r)
		}
	}
}

func TestEmptyResultNotCachedInEitherTier(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	var fetches atomic.Int32
	fetch := countingFetch(&fetches, `{"recordsTotal":0,"data":[]}`, true, nil)

	if _, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false, fetch); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.store.Get(ctx, "giayto", "AB 123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("persistent tier holds an empty result: err=%v", err)
	}
	if _, ok := c.mem.Get(cacheKey("giayto", "AB 123")); ok {
		t.Fatal("memory tier holds an empty result")
	}

	// A later call within the freshness window retries the portal.
	if _, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false, fetch); err != nil {
		t.Fatal(err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("fetch ran %d times, want 2", fetches.Load())
	}
}

func TestFetchErrorNotCachedAndPropagates(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	boom := errors.New("portal down")
	var fetches atomic.Int32
	if _, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false,
		countingFetch(&fetches, "", false, boom)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want portal down", err)
	}

	// The failure was not cached: the next call reaches the fetch again.
	got, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false,
		countingFetch(&fetches, `{"ok":true}`, false, nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"ok":true}` || fetches.Load() != 2 {
		t.Fatalf("payload=%s fetches=%d", got, fetches.Load())
	}
}

func TestCachedAt(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	if _, err := c.CachedAt(ctx, "giayto", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	at := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	if err := c.store.Put(ctx, "giayto", "AB 123", json.RawMessage(`{}`), at); err != nil {
		t.Fatal(err)
	}
	got, err := c.CachedAt(ctx, "giayto", "AB 123")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(at.UTC()) {
		t.Fatalf("CachedAt = %v, want %v", got, at.UTC())
	}
}

func TestMemoryHitServesWithoutStore(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	c.mem.Set(cacheKey("giayto", "AB 123"), json.RawMessage(`{"mem":true}`), time.Minute)

	var fetches atomic.Int32
	got, err := c.GetOrFetch(ctx, "giayto", "AB 123", time.Hour, false,
		countingFetch(&fetches, `{"fresh":true}`, false, nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"mem":true}` || fetches.Load() != 0 {
		t.Fatalf("payload=%s fetches=%d", got, fetches.Load())
	}
}
