package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bookstr/nostr"
)

// defaultPoolIdleTTL is how long the shared handle may sit unused before it
// is recycled on next access. Keeps idle sockets from living forever without
// paying reconnect cost on every call.
const defaultPoolIdleTTL = 10 * time.Minute

// Pool wraps the connection manager in a lazily-renewed shared handle.
type Pool struct {
	mu      sync.Mutex
	mgr     *Manager
	lastUse time.Time
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewPool creates a pool over the manager. idleTTL <= 0 selects the default.
func NewPool(mgr *Manager, idleTTL time.Duration, logger *slog.Logger) *Pool {
	if idleTTL <= 0 {
		idleTTL = defaultPoolIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		mgr:     mgr,
		idleTTL: idleTTL,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the shared handle, recycling it first if the pool has been
// inactive past its TTL.
func (p *Pool) Get(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	stale := !p.lastUse.IsZero() && p.now().Sub(p.lastUse) > p.idleTTL
	p.lastUse = p.now()
	p.mu.Unlock()

	if stale {
		p.logger.Debug("recycling idle relay pool")
		p.mgr.CloseAll()
	}

	if err := p.mgr.EnsureConnected(ctx, false); err != nil {
		return nil, err
	}
	return &Handle{pool: p}, nil
}

// Refresh tears down the current connections and returns a fresh handle.
func (p *Pool) Refresh(ctx context.Context) (*Handle, error) {
	p.mgr.CloseAll()

	p.mu.Lock()
	p.lastUse = p.now()
	p.mu.Unlock()

	if err := p.mgr.EnsureConnected(ctx, true); err != nil {
		return nil, err
	}
	return &Handle{pool: p}, nil
}

// Close tears down all connections. The pool remains usable; the next Get
// reconnects.
func (p *Pool) Close() {
	p.mgr.CloseAll()
}

// Manager exposes the underlying connection manager.
func (p *Pool) Manager() *Manager {
	return p.mgr
}

// touch records pool activity.
func (p *Pool) touch() {
	p.mu.Lock()
	p.lastUse = p.now()
	p.mu.Unlock()
}

// Handle is the shared subscription/query handle bundling the manager state
// with the configured relay set.
type Handle struct {
	pool *Pool
}

// Query runs a fan-out fetch through the pool's connections.
func (h *Handle) Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	h.pool.touch()
	return h.pool.mgr.FetchEvents(ctx, filter)
}
