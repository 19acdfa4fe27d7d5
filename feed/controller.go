package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of one feed view.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
	StateFailed
	StateBackgroundRefreshing
	StateLoadingMore
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateBackgroundRefreshing:
		return "background-refreshing"
	case StateLoadingMore:
		return "loading-more"
	case StateExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

// ErrFetchInFlight is returned when a fetch is refused because one is
// already running for the same view.
var ErrFetchInFlight = errors.New("fetch already in flight for this view")

// ErrRetryBudgetExhausted wraps the last fetch error once every retry
// attempt has failed.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// FetchPage produces one page of activities. until, when non-nil, bounds
// results to items strictly older than the cursor.
type FetchPage func(ctx context.Context, until *int64, limit int) ([]Activity, error)

// Config tunes one feed view.
type Config struct {
	PageSize   int           // default 10
	MaxRetries int           // retries after the initial attempt, default 3
	RetryBase  time.Duration // first backoff delay, default 2s; doubles per attempt
	Paginate   bool
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	return c
}

// Controller owns one feed view: its cursor, single-flight guard, retry
// loop, and background refresh behavior.
type Controller struct {
	cfg    Config
	fetch  FetchPage
	logger *slog.Logger

	// limiter gates unsolicited refreshes feed-wide; may be shared across
	// views and may be nil.
	limiter *RefreshLimiter

	// onFailure is the user-visible failure signal, invoked exactly once
	// per exhausted retry budget. May be nil.
	onFailure func(error)

	// sleep is injectable for backoff tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	items     []Activity
	cursor    int64
	hasCursor bool
	hasMore   bool
	inFlight  bool
}

// NewController creates a feed view controller.
func NewController(cfg Config, fetch FetchPage, limiter *RefreshLimiter, onFailure func(error), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:       cfg.withDefaults(),
		fetch:     fetch,
		limiter:   limiter,
		onFailure: onFailure,
		logger:    logger,
		sleep:     sleepCtx,
		state:     StateIdle,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin atomically checks and sets the single-flight guard before the first
// suspension point of a fetch.
func (c *Controller) begin(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrFetchInFlight
	}
	c.inFlight = true
	c.state = next
	return nil
}

// finish clears the guard on every exit path.
func (c *Controller) finish(state State) {
	c.mu.Lock()
	c.inFlight = false
	c.state = state
	c.mu.Unlock()
}

// Load performs the foreground initial fetch with retry and exponential
// backoff. On exhausting the budget the failure signal fires exactly once
// and the view enters StateFailed with no data.
func (c *Controller) Load(ctx context.Context) error {
	if err := c.begin(StateLoading); err != nil {
		return err
	}

	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		items, err := c.fetch(ctx, nil, c.cfg.PageSize)
		if err == nil {
			c.install(items)
			c.finish(StateLoaded)
			return nil
		}
		lastErr = err
		c.logger.Warn("feed load failed", "attempt", attempt, "error", err)

		if attempt == attempts {
			break
		}
		// 2s, 4s, 8s, ...
		delay := c.cfg.RetryBase << (attempt - 1)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	c.finish(StateFailed)
	wrapped := fmt.Errorf("%w: %w", ErrRetryBudgetExhausted, lastErr)
	if c.onFailure != nil {
		c.onFailure(wrapped)
	}
	return wrapped
}

// install replaces the result set and derives cursor state from it.
func (c *Controller) install(items []Activity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	if len(items) > 0 {
		c.cursor = items[len(items)-1].Event.CreatedAt
		c.hasCursor = true
	} else {
		c.hasCursor = false
	}
	c.hasMore = c.cfg.Paginate && len(items) >= c.cfg.PageSize
}

// Refresh performs an unsolicited background refresh. It never retries and
// never discards prior data on failure. The full result set is replaced
// only when at least one newly fetched id is absent from the previous set,
// to avoid visual churn.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil
	}

	c.mu.Lock()
	prev := c.state
	if prev != StateLoaded && prev != StateExhausted {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.begin(StateBackgroundRefreshing); err != nil {
		return nil
	}

	items, err := c.fetch(ctx, nil, c.cfg.PageSize)
	if err != nil {
		// Silently keep prior data
		c.logger.Debug("background refresh failed", "error", err)
		c.finish(prev)
		return nil
	}

	c.mu.Lock()
	if hasNewID(c.items, items) {
		c.mu.Unlock()
		c.install(items)
		c.finish(StateLoaded)
	} else {
		c.mu.Unlock()
		c.finish(prev)
	}
	return nil
}

func hasNewID(prev, next []Activity) bool {
	known := make(map[string]bool, len(prev))
	for _, item := range prev {
		known[item.Event.ID] = true
	}
	for _, item := range next {
		if !known[item.Event.ID] {
			return true
		}
	}
	return false
}

// LoadMore fetches the next page strictly before the cursor. It is a no-op
// when pagination is disabled or the feed is exhausted. A short page is the
// sole end-of-data signal.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if !c.cfg.Paginate || !c.hasMore {
		c.mu.Unlock()
		return nil
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrFetchInFlight
	}
	// Fall back to the oldest loaded item's timestamp if the cursor was
	// never recorded
	if !c.hasCursor {
		if len(c.items) == 0 {
			c.mu.Unlock()
			return nil
		}
		c.cursor = c.items[len(c.items)-1].Event.CreatedAt
		c.hasCursor = true
	}
	until := c.cursor - 1
	c.inFlight = true
	c.state = StateLoadingMore
	c.mu.Unlock()

	page, err := c.fetch(ctx, &until, c.cfg.PageSize)
	if err != nil {
		c.finish(StateLoaded)
		return err
	}

	c.mu.Lock()
	known := make(map[string]bool, len(c.items))
	for _, item := range c.items {
		known[item.Event.ID] = true
	}
	for _, item := range page {
		if known[item.Event.ID] {
			continue
		}
		known[item.Event.ID] = true
		c.items = append(c.items, item)
	}
	if len(c.items) > 0 {
		c.cursor = c.items[len(c.items)-1].Event.CreatedAt
		c.hasCursor = true
	}
	c.hasMore = len(page) >= c.cfg.PageSize
	c.inFlight = false
	if c.hasMore {
		c.state = StateLoaded
	} else {
		c.state = StateExhausted
	}
	c.mu.Unlock()
	return nil
}

// Items returns a snapshot copy of the loaded activities.
func (c *Controller) Items() []Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]Activity, len(c.items))
	copy(items, c.items)
	return items
}

// State reports the view's lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasMore reports whether another page may exist.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Cursor returns the current pagination watermark.
func (c *Controller) Cursor() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor, c.hasCursor
}

// SetSleep overrides the backoff sleeper. Tests only.
func (c *Controller) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	c.sleep = sleep
}
