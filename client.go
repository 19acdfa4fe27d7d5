// Package bookstr is a client library that assembles book-social state
// (reading lists, reviews, feeds) from a set of untrusted relays. All
// cross-relay aggregation, caching and fault tolerance lives here; the
// consuming application holds one Client and reads assembled views.
package bookstr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bookstr/books"
	"bookstr/cache"
	"bookstr/enrich"
	"bookstr/feed"
	"bookstr/internal/util"
	"bookstr/nostr"
	"bookstr/relay"
	"bookstr/store"
)

const (
	memoryCacheMaxSize     = 10000
	memoryCacheSweepPeriod = 30 * time.Second
	poolIdleTTL            = 10 * time.Minute
)

// Client owns the relay pool, caches and rate limiters for one consuming
// application. There are no process-wide singletons; two Clients are fully
// independent.
type Client struct {
	opts   Options
	logger *slog.Logger

	mgr       *relay.Manager
	pool      *relay.Pool
	publisher *relay.Publisher

	// publishMgr and profilePool honor the config's publish/profile relay
	// splits; they alias mgr/pool when the lists coincide.
	publishMgr  *relay.Manager
	profilePool *relay.Pool

	// mu guards the cache stack, which Reset swaps out wholesale while
	// fetches may be in flight on other goroutines.
	mu      sync.RWMutex
	backend cache.Backend
	// queries is the general cache tier, feeds the short-lived feed tier.
	queries  *cache.QueryCache
	feeds    *cache.QueryCache
	profiles *enrich.ProfileService

	books enrich.BookResolver

	limiter *feed.RefreshLimiter

	kv        store.KV
	snapshots *store.Snapshots
}

// New builds a Client from options. The relay list resolution order is
// opts.Relays, then the relays.json config, then embedded defaults.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel)
	}

	// An explicit relay list overrides every configured split; the config
	// file may route publishes and profile lookups to dedicated relays.
	relays := opts.Relays
	publishRelays, profileRelays := relays, relays
	if len(relays) == 0 {
		cfg := LoadRelaysConfig(opts.RelaysConfigPath, logger)
		relays = cfg.Default()
		publishRelays = cfg.Publish()
		profileRelays = cfg.Profile()
	}

	var backend cache.Backend
	if opts.RedisURL != "" {
		redis, err := cache.NewRedis(opts.RedisURL, "bookstr")
		if err != nil {
			return nil, fmt.Errorf("failed to connect cache backend: %w", err)
		}
		backend = redis
		logger.Info("using redis cache backend")
	} else {
		backend = cache.NewMemory(memoryCacheMaxSize, memoryCacheSweepPeriod)
	}

	mgr := relay.NewManager(relays, logger)
	pool := relay.NewPool(mgr, poolIdleTTL, logger)

	publishMgr := mgr
	if !sameRelaySet(publishRelays, relays) {
		publishMgr = relay.NewManager(publishRelays, logger)
	}
	profilePool := pool
	if !sameRelaySet(profileRelays, relays) {
		profilePool = relay.NewPool(relay.NewManager(profileRelays, logger), poolIdleTTL, logger)
	}

	c := &Client{
		opts:        opts,
		logger:      logger,
		backend:     backend,
		mgr:         mgr,
		pool:        pool,
		publisher:   relay.NewPublisher(publishMgr, opts.AckPolicy, logger),
		publishMgr:  publishMgr,
		profilePool: profilePool,
		queries:     cache.NewQueryCache(backend, opts.QueryFreshTTL, opts.QueryStaleTTL, logger),
		feeds:       cache.NewQueryCache(backend, opts.FeedFreshTTL, opts.FeedStaleTTL, logger),
		books:       opts.BookResolver,
		limiter:     feed.NewRefreshLimiter(opts.RefreshWindow),
	}
	c.profiles = enrich.NewProfileService(c.fetchProfileDirect, backend, logger)

	if opts.StorePath != "" {
		kv, err := store.Open(opts.StorePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		c.kv = kv
		c.snapshots = store.NewSnapshots(kv)
	}

	return c, nil
}

// fetchDirect queries the relay pool, bypassing the query cache.
func (c *Client) fetchDirect(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	handle, err := c.pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	return handle.Query(ctx, filter)
}

// fetchProfileDirect is fetchDirect against the profile relay set.
func (c *Client) fetchProfileDirect(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	handle, err := c.profilePool.Get(ctx)
	if err != nil {
		return nil, err
	}
	return handle.Query(ctx, filter)
}

// sameRelaySet reports whether two endpoint lists name the same relays,
// ignoring order.
func sameRelaySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := util.SortedCopy(a), util.SortedCopy(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// cacheStack snapshots the swappable cache layer under the read lock.
func (c *Client) cacheStack() (queries, feeds *cache.QueryCache, profiles *enrich.ProfileService) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queries, c.feeds, c.profiles
}

// FetchEvents queries the relay pool through the general cache tier.
func (c *Client) FetchEvents(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	queries, _, _ := c.cacheStack()
	return queries.GetOrFetch(ctx, filter.CanonicalKey(), func(ctx context.Context) ([]nostr.Event, error) {
		return c.fetchDirect(ctx, filter)
	})
}

// fetchFeedEvents is FetchEvents on the short-lived feed tier.
func (c *Client) fetchFeedEvents(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	_, feeds, _ := c.cacheStack()
	return feeds.GetOrFetch(ctx, filter.CanonicalKey(), func(ctx context.Context) ([]nostr.Event, error) {
		return c.fetchDirect(ctx, filter)
	})
}

// Publish signs nothing; evt must already be signed. Delivery semantics
// follow the configured ack policy.
func (c *Client) Publish(ctx context.Context, evt *nostr.Event) error {
	return c.publisher.Publish(ctx, evt)
}

// Contacts returns the pubkeys a user follows, from their newest contact
// list event.
func (c *Client) Contacts(ctx context.Context, pubkey string) ([]string, error) {
	events, err := c.FetchEvents(ctx, nostr.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{nostr.KindContacts},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	newest := newestEvent(events)
	if newest == nil {
		return nil, nil
	}
	var contacts []string
	for _, tag := range newest.Tags {
		if len(tag) >= 2 && tag[0] == "p" && tag[1] != "" {
			contacts = append(contacts, tag[1])
		}
	}
	return contacts, nil
}

// RelayList returns a user's advertised relay endpoints from their newest
// relay list event, persisting a snapshot when a store is configured.
func (c *Client) RelayList(ctx context.Context, pubkey string) ([]string, error) {
	events, err := c.FetchEvents(ctx, nostr.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{nostr.KindRelayList},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	newest := newestEvent(events)
	if newest == nil {
		return nil, nil
	}
	var relays []string
	for _, tag := range newest.Tags {
		if len(tag) >= 2 && tag[0] == "r" && tag[1] != "" {
			relays = append(relays, tag[1])
		}
	}
	if c.snapshots != nil && len(relays) > 0 {
		if err := c.snapshots.SaveRelayList(pubkey, relays); err != nil {
			c.logger.Warn("failed to persist relay list snapshot", "pubkey", nostr.ShortID(pubkey), "error", err)
		}
	}
	return relays, nil
}

// Profile resolves a user's display profile, persisting a snapshot of the
// viewer's own profile when a store is configured.
func (c *Client) Profile(ctx context.Context, pubkey string) (*enrich.Profile, error) {
	_, _, svc := c.cacheStack()
	profiles, err := svc.LookupProfiles(ctx, []string{pubkey})
	if err != nil {
		return nil, err
	}
	profile := profiles[pubkey]
	if profile != nil && c.snapshots != nil && pubkey == c.opts.Viewer {
		if err := c.snapshots.SaveProfile(pubkey, *profile); err != nil {
			c.logger.Warn("failed to persist profile snapshot", "pubkey", nostr.ShortID(pubkey), "error", err)
		}
	}
	return profile, nil
}

// Library assembles a user's reading shelves from their list and review
// events.
func (c *Client) Library(ctx context.Context, pubkey string) (books.Library, error) {
	kinds := append(nostr.ListKinds(), nostr.KindReview)
	events, err := c.FetchEvents(ctx, nostr.Filter{
		Authors: []string{pubkey},
		Kinds:   kinds,
		Limit:   500,
	})
	if err != nil {
		return books.Library{}, err
	}
	return books.BuildLibrary(events), nil
}

// assembler builds the join stage shared by all feed views.
func (c *Client) assembler() *feed.Assembler {
	_, _, profiles := c.cacheStack()
	return &feed.Assembler{
		Fetch:    feed.FetchFunc(c.fetchDirect),
		Profiles: profiles,
		Books:    c.books,
		Viewer:   c.opts.Viewer,
		Topic:    c.opts.Topic,
		Logger:   c.logger,
	}
}

// timelineKinds returns the kinds eligible as top-level feed items.
func timelineKinds() []int {
	var kinds []int
	for kind, def := range nostr.KindRegistry {
		if def.ShowInTimeline {
			kinds = append(kinds, kind)
		}
	}
	sort.Ints(kinds)
	return kinds
}

// feedPage fetches and assembles one page of feed activities for the given
// author set (nil means global).
func (c *Client) feedPage(ctx context.Context, authors []string, until *int64, limit int) ([]feed.Activity, error) {
	filter := nostr.Filter{
		Authors: authors,
		Kinds:   timelineKinds(),
		Until:   until,
		// Over-fetch: replies and off-topic events are filtered out
		// during assembly.
		Limit: limit * 3,
	}
	events, err := c.fetchFeedEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	return c.assembler().Assemble(ctx, events, limit), nil
}

// GlobalFeed builds a controller over the network-wide book feed.
// onFailure, when non-nil, receives the single user-visible error after the
// foreground retry budget is exhausted.
func (c *Client) GlobalFeed(onFailure func(error)) *feed.Controller {
	cfg := feed.Config{PageSize: c.opts.PageSize, Paginate: true}
	return feed.NewController(cfg, func(ctx context.Context, until *int64, limit int) ([]feed.Activity, error) {
		return c.feedPage(ctx, nil, until, limit)
	}, c.limiter, onFailure, c.logger)
}

// FollowingFeed builds a controller over events authored by the accounts a
// user follows. The contact list is resolved once at construction.
func (c *Client) FollowingFeed(ctx context.Context, pubkey string, onFailure func(error)) (*feed.Controller, error) {
	contacts, err := c.Contacts(ctx, pubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve contact list: %w", err)
	}
	if len(contacts) == 0 {
		return nil, fmt.Errorf("no contacts found for %s", nostr.ShortID(pubkey))
	}
	cfg := feed.Config{PageSize: c.opts.PageSize, Paginate: true}
	return feed.NewController(cfg, func(ctx context.Context, until *int64, limit int) ([]feed.Activity, error) {
		return c.feedPage(ctx, contacts, until, limit)
	}, c.limiter, onFailure, c.logger), nil
}

// SetRelays replaces the relay list and recycles all connections. Like an
// explicit Options.Relays list, it overrides the publish and profile splits.
func (c *Client) SetRelays(ctx context.Context, relays []string) error {
	c.mgr.SetEndpoints(relays)
	if c.publishMgr != c.mgr {
		c.publishMgr.SetEndpoints(relays)
	}
	if c.profilePool != c.pool {
		c.profilePool.Manager().SetEndpoints(relays)
	}
	return c.Reset(ctx)
}

// Reset drops all relay connections and reconnects, used on logout or
// relay-list change. With the in-process memory backend the cached query
// state is discarded as well; redis entries age out via their TTLs.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	if mem, ok := c.backend.(*cache.Memory); ok {
		mem.Close()
		fresh := cache.NewMemory(memoryCacheMaxSize, memoryCacheSweepPeriod)
		c.backend = fresh
		c.queries = cache.NewQueryCache(fresh, c.opts.QueryFreshTTL, c.opts.QueryStaleTTL, c.logger)
		c.feeds = cache.NewQueryCache(fresh, c.opts.FeedFreshTTL, c.opts.FeedStaleTTL, c.logger)
		c.profiles = enrich.NewProfileService(c.fetchProfileDirect, fresh, c.logger)
	}
	c.mu.Unlock()

	c.mgr.CloseAll()
	if c.publishMgr != c.mgr {
		c.publishMgr.CloseAll()
	}
	if c.profilePool != c.pool {
		c.profilePool.Close()
	}
	_, err := c.pool.Refresh(ctx)
	return err
}

// Close releases all connections and backends.
func (c *Client) Close() error {
	c.pool.Close()
	if c.publishMgr != c.mgr {
		c.publishMgr.CloseAll()
	}
	if c.profilePool != c.pool {
		c.profilePool.Close()
	}

	c.mu.RLock()
	backend := c.backend
	c.mu.RUnlock()

	var firstErr error
	if err := backend.Close(); err != nil {
		firstErr = err
	}
	if c.kv != nil {
		if err := c.kv.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshots exposes the persisted snapshot helpers, or nil when no store
// path was configured.
func (c *Client) Snapshots() *store.Snapshots {
	return c.snapshots
}

// newestEvent returns the event with the greatest CreatedAt, or nil.
func newestEvent(events []nostr.Event) *nostr.Event {
	var newest *nostr.Event
	for i := range events {
		if newest == nil || events[i].CreatedAt > newest.CreatedAt {
			newest = &events[i]
		}
	}
	return newest
}
