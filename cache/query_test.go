package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bookstr/nostr"
)

func testEvents(ids ...string) []nostr.Event {
	out := make([]nostr.Event, len(ids))
	for i, id := range ids {
		out[i] = nostr.Event{ID: id, Kind: nostr.KindNote}
	}
	return out
}

func newTestCache(t *testing.T, fresh, stale time.Duration) (*QueryCache, *Memory, *time.Time) {
	t.Helper()
	backend := NewMemory(100, time.Minute)
	t.Cleanup(func() { backend.Close() })

	cache := NewQueryCache(backend, fresh, stale, nil)
	now := time.Now()
	cache.SetClock(func() time.Time { return now })
	return cache, backend, &now
}

func TestQueryCacheTTLTiers(t *testing.T) {
	ctx := context.Background()
	cache, _, now := newTestCache(t, time.Minute, 5*time.Minute)

	cache.Put(ctx, "k", testEvents("a", "b"))

	// Just inside the fresh window
	*now = now.Add(time.Minute - time.Second)
	events, state := cache.Get(ctx, "k")
	if state != Fresh || len(events) != 2 {
		t.Fatalf("state = %v, events = %d; want fresh hit", state, len(events))
	}

	// Just past the fresh window: stale hit, payload still served
	*now = now.Add(2 * time.Second)
	events, state = cache.Get(ctx, "k")
	if state != Stale || len(events) != 2 {
		t.Fatalf("state = %v, events = %d; want stale hit", state, len(events))
	}

	// Past the stale window: miss, entry evicted
	*now = now.Add(5 * time.Minute)
	if _, state = cache.Get(ctx, "k"); state != Miss {
		t.Fatalf("state = %v, want miss", state)
	}

	hits, staleHits, misses := cache.Stats()
	if hits != 1 || staleHits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d/%d, want 1/1/1", hits, staleHits, misses)
	}
}

func TestQueryCacheMissFetchesInline(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newTestCache(t, time.Minute, 5*time.Minute)

	var calls atomic.Int64
	fetch := func(ctx context.Context) ([]nostr.Event, error) {
		calls.Add(1)
		return testEvents("a"), nil
	}

	events, err := cache.GetOrFetch(ctx, "k", fetch)
	if err != nil || len(events) != 1 {
		t.Fatalf("GetOrFetch: %v, %d events", err, len(events))
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls = %d", calls.Load())
	}

	// Second read is served from cache
	if _, err := cache.GetOrFetch(ctx, "k", fetch); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d after fresh hit", calls.Load())
	}
}

func TestQueryCacheStaleServesThenRefreshes(t *testing.T) {
	ctx := context.Background()
	cache, _, now := newTestCache(t, time.Minute, 5*time.Minute)

	cache.Put(ctx, "k", testEvents("old"))
	*now = now.Add(2 * time.Minute)

	refreshed := make(chan struct{})
	var once sync.Once
	fetch := func(ctx context.Context) ([]nostr.Event, error) {
		once.Do(func() { close(refreshed) })
		return testEvents("new"), nil
	}

	// Stale hit returns the old payload immediately
	events, err := cache.GetOrFetch(ctx, "k", fetch)
	if err != nil || len(events) != 1 || events[0].ID != "old" {
		t.Fatalf("stale read: %v, %v", err, events)
	}

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("background refresh never ran")
	}

	// The refreshed payload replaces the entry; fresh again
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, state := cache.Get(ctx, "k")
		if state == Fresh && len(events) == 1 && events[0].ID == "new" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refreshed entry never landed: state=%v events=%v", state, events)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestQueryCacheFetchErrorPropagates(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newTestCache(t, time.Minute, 5*time.Minute)

	wantErr := errors.New("relay down")
	_, err := cache.GetOrFetch(ctx, "k", func(ctx context.Context) ([]nostr.Event, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}

	// A failed fetch must not poison the cache
	if _, state := cache.Get(ctx, "k"); state != Miss {
		t.Errorf("state = %v after failed fetch, want miss", state)
	}
}

func TestQueryCacheCorruptEntryIsDiscarded(t *testing.T) {
	ctx := context.Background()
	cache, backend, _ := newTestCache(t, time.Minute, 5*time.Minute)

	backend.Set(ctx, "k", []byte("{not json"), 5*time.Minute)

	if _, state := cache.Get(ctx, "k"); state != Miss {
		t.Fatalf("corrupt entry should read as miss")
	}
	if _, found, _ := backend.Get(ctx, "k"); found {
		t.Error("corrupt entry should have been deleted")
	}
}

func TestMemoryBackendExpiry(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory(100, time.Minute)
	defer backend.Close()

	backend.Set(ctx, "a", []byte("x"), 30*time.Millisecond)
	if _, found, _ := backend.Get(ctx, "a"); !found {
		t.Fatal("entry missing immediately after set")
	}

	time.Sleep(50 * time.Millisecond)
	if _, found, _ := backend.Get(ctx, "a"); found {
		t.Error("entry survived its TTL")
	}
}

func TestMemoryBackendEvictsAtSizeBound(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory(2, time.Minute)
	defer backend.Close()

	// "short" expires soonest and is the eviction victim
	backend.Set(ctx, "short", []byte("s"), time.Second)
	backend.Set(ctx, "long", []byte("l"), time.Hour)
	backend.Set(ctx, "newcomer", []byte("n"), time.Hour)

	if n := backend.Len(); n != 2 {
		t.Fatalf("Len = %d, want bound of 2", n)
	}
	if _, found, _ := backend.Get(ctx, "short"); found {
		t.Error("soonest-expiring entry survived eviction")
	}
	if _, found, _ := backend.Get(ctx, "long"); !found {
		t.Error("long-lived entry evicted")
	}
	if _, found, _ := backend.Get(ctx, "newcomer"); !found {
		t.Error("inserted entry missing")
	}

	// Overwriting an existing key does not evict
	backend.Set(ctx, "long", []byte("l2"), time.Hour)
	if n := backend.Len(); n != 2 {
		t.Errorf("Len after overwrite = %d", n)
	}
}

func TestMemoryBackendMultiOps(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory(100, time.Minute)
	defer backend.Close()

	items := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	if err := backend.SetMultiple(ctx, items, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := backend.GetMultiple(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Errorf("GetMultiple = %v", got)
	}
}
