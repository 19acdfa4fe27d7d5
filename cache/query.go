package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"bookstr/nostr"
)

// State classifies a query cache read.
type State int

const (
	Miss State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// entry is the stored representation of a cached result set.
type entry struct {
	Events    []nostr.Event `json:"events"`
	WrittenAt int64         `json:"written_at"` // unix seconds
}

// QueryCache caches raw relay result sets keyed by canonical filter keys.
//
// Reads younger than the fresh TTL are served directly. Reads past it but
// younger than the stale TTL are served immediately while one background
// refresh is issued; the refreshed result silently replaces the entry.
// Anything older is a miss and falls through to a live fetch.
type QueryCache struct {
	backend  Backend
	freshTTL time.Duration
	staleTTL time.Duration
	logger   *slog.Logger

	group singleflight.Group
	now   func() time.Time

	hits      atomic.Int64
	staleHits atomic.Int64
	misses    atomic.Int64
}

const backgroundRefreshTimeout = 10 * time.Second

// NewQueryCache creates a query cache over the given backend.
// staleTTL must be >= freshTTL; passing equal values disables the stale tier.
func NewQueryCache(backend Backend, freshTTL, staleTTL time.Duration, logger *slog.Logger) *QueryCache {
	if logger == nil {
		logger = slog.Default()
	}
	if staleTTL < freshTTL {
		staleTTL = freshTTL
	}
	return &QueryCache{
		backend:  backend,
		freshTTL: freshTTL,
		staleTTL: staleTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the cached result set for key and its freshness state.
// A Stale result is usable; the caller decides whether to refresh.
func (c *QueryCache) Get(ctx context.Context, key string) ([]nostr.Event, State) {
	data, found, err := c.backend.Get(ctx, key)
	if err != nil || !found {
		c.misses.Add(1)
		return nil, Miss
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Corrupt payload: discard the single offending entry
		c.backend.Delete(ctx, key)
		c.misses.Add(1)
		return nil, Miss
	}

	age := c.now().Sub(time.Unix(e.WrittenAt, 0))
	switch {
	case age < c.freshTTL:
		c.hits.Add(1)
		return e.Events, Fresh
	case age < c.staleTTL:
		c.staleHits.Add(1)
		return e.Events, Stale
	default:
		c.backend.Delete(ctx, key)
		c.misses.Add(1)
		return nil, Miss
	}
}

// Put stores a result set under key. Last write wins.
func (c *QueryCache) Put(ctx context.Context, key string, events []nostr.Event) {
	data, err := json.Marshal(entry{
		Events:    events,
		WrittenAt: c.now().Unix(),
	})
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, key, data, c.staleTTL); err != nil {
		c.logger.Warn("query cache write failed", "key", key, "error", err)
	}
}

// FetchFunc produces a result set for a cache key on miss or refresh.
type FetchFunc func(ctx context.Context) ([]nostr.Event, error)

// GetOrFetch is the read-through path. Misses fetch inline (deduplicated
// across concurrent callers); stale hits return the cached set immediately
// and refresh in the background.
func (c *QueryCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]nostr.Event, error) {
	events, state := c.Get(ctx, key)
	switch state {
	case Fresh:
		return events, nil
	case Stale:
		c.refreshInBackground(key, fetch)
		return events, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, fetched)
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]nostr.Event), nil
}

// refreshInBackground issues at most one refresh per key at a time.
func (c *QueryCache) refreshInBackground(key string, fetch FetchFunc) {
	go func() {
		_, _, _ = c.group.Do("refresh:"+key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
			defer cancel()

			fetched, err := fetch(ctx)
			if err != nil {
				c.logger.Debug("background refresh failed", "key", key, "error", err)
				return nil, err
			}
			c.Put(ctx, key, fetched)
			return nil, nil
		})
	}()
}

// Stats returns cumulative hit/miss counters.
func (c *QueryCache) Stats() (hits, staleHits, misses int64) {
	return c.hits.Load(), c.staleHits.Load(), c.misses.Load()
}

// SetClock overrides the cache clock. Tests only.
func (c *QueryCache) SetClock(now func() time.Time) {
	c.now = now
}
