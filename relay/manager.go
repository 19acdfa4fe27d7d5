package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrNoRelaysReachable is returned when a connection round opens zero
// connections. Any nonzero subset of open connections is a success.
var ErrNoRelaysReachable = errors.New("no relays reachable")

// Status describes the manager's connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// connectCooldown is the window within which a new connection attempt
	// reuses already-open connections instead of dialing again.
	connectCooldown = 2 * time.Second

	// dialTimeout bounds a single endpoint dial.
	dialTimeout = 8 * time.Second

	// maxConcurrentDials bounds the number of endpoints dialed in parallel
	// per connection round, to avoid amplifying a rate-limit storm.
	maxConcurrentDials = 3
)

// Manager owns the set of live connections to relay endpoints and their
// failure history.
type Manager struct {
	mu         sync.Mutex
	endpoints  []string
	conns      map[string]*Conn
	states     map[string]*endpointState
	connecting bool

	group    singleflight.Group
	cooldown *rate.Limiter
	dialer   *websocket.Dialer
	logger   *slog.Logger

	dialFailures      atomic.Int64
	rateLimitsTripped atomic.Int64
	droppedEvents     atomic.Int64
}

// NewManager creates a connection manager for the given endpoint list.
// The list is copied; callers always work against a snapshot.
func NewManager(endpoints []string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		conns:    make(map[string]*Conn),
		states:   make(map[string]*endpointState),
		cooldown: rate.NewLimiter(rate.Every(connectCooldown), 1),
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		logger:   logger,
	}
	m.SetEndpoints(endpoints)
	return m
}

// SetEndpoints replaces the endpoint list with a snapshot copy. The caller
// is responsible for following a mutation with CloseAll and a fresh
// EnsureConnected.
func (m *Manager) SetEndpoints(endpoints []string) {
	snapshot := make([]string, len(endpoints))
	copy(snapshot, endpoints)

	m.mu.Lock()
	m.endpoints = snapshot
	m.mu.Unlock()
}

// Endpoints returns a snapshot copy of the configured endpoint list.
func (m *Manager) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]string, len(m.endpoints))
	copy(snapshot, m.endpoints)
	return snapshot
}

// Status reports the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connecting {
		return StatusConnecting
	}
	for _, c := range m.conns {
		if !c.isClosed() {
			return StatusConnected
		}
	}
	return StatusDisconnected
}

// OpenConns returns the currently open connections.
func (m *Manager) OpenConns() []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openConnsLocked()
}

func (m *Manager) openConnsLocked() []*Conn {
	conns := make([]*Conn, 0, len(m.conns))
	for url, c := range m.conns {
		if c.isClosed() {
			delete(m.conns, url)
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

// EnsureConnected brings up connections if none are open (or always, when
// force is set). Concurrent callers share one in-flight attempt.
func (m *Manager) EnsureConnected(ctx context.Context, force bool) error {
	_, err := m.Connect(ctx, force)
	return err
}

// Connect dials the configured endpoints and returns the open connections.
//
// An attempt started within the cooldown window of the previous one reuses
// any already-open connections instead of issuing new dials, unless force.
// At least one open connection is success; zero is ErrNoRelaysReachable.
func (m *Manager) Connect(ctx context.Context, force bool) ([]*Conn, error) {
	result, err, _ := m.group.Do("connect", func() (interface{}, error) {
		return m.connectRound(ctx, force)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*Conn), nil
}

func (m *Manager) connectRound(ctx context.Context, force bool) ([]*Conn, error) {
	if !force && !m.cooldown.Allow() {
		if open := m.OpenConns(); len(open) > 0 {
			return open, nil
		}
		// Nothing to reuse; dialing is cheaper than returning an error
	}

	m.mu.Lock()
	m.connecting = true
	endpoints := orderEndpoints(m.endpoints, m.states, time.Now())
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentDials)

	for _, url := range endpoints {
		m.mu.Lock()
		existing := m.conns[url]
		m.mu.Unlock()

		if existing != nil && !existing.isClosed() {
			if !force {
				continue
			}
			existing.markClosed(nil)
		}

		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			m.dial(ctx, url)
		}(url)
	}
	wg.Wait()

	open := m.OpenConns()
	if len(open) == 0 {
		return nil, ErrNoRelaysReachable
	}
	m.logger.Debug("relay pool connected", "open", len(open), "configured", len(endpoints))
	return open, nil
}

// dial attempts one endpoint with its own timeout and records the outcome.
func (m *Manager) dial(ctx context.Context, url string) {
	m.mu.Lock()
	state := m.stateLocked(url)
	state.noteAttempt(time.Now())
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := m.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		m.dialFailures.Add(1)
		m.mu.Lock()
		state.failures++
		m.mu.Unlock()
		m.logger.Debug("relay dial failed", "relay", url, "error", err)
		return
	}

	conn := newConn(ws, url, m.handleConnClosed, func() { m.droppedEvents.Add(1) }, m.logger)

	m.mu.Lock()
	if prev := m.conns[url]; prev != nil && !prev.isClosed() {
		// Lost a race with another round; keep the older connection
		m.mu.Unlock()
		conn.markClosed(nil)
		return
	}
	m.conns[url] = conn
	m.mu.Unlock()
}

func (m *Manager) stateLocked(url string) *endpointState {
	state, ok := m.states[url]
	if !ok {
		state = &endpointState{}
		m.states[url] = state
	}
	return state
}

// handleConnClosed inspects a connection's terminal error for a policy
// violation close frame mentioning rate limiting, and marks the endpoint.
func (m *Manager) handleConnClosed(c *Conn, err error) {
	url := c.URL()

	m.mu.Lock()
	if m.conns[url] == c {
		delete(m.conns, url)
	}
	m.mu.Unlock()

	if err == nil {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		closeErr.Code == websocket.ClosePolicyViolation &&
		strings.Contains(strings.ToLower(closeErr.Text), "rate") {
		m.rateLimitsTripped.Add(1)
		m.mu.Lock()
		m.stateLocked(url).markRateLimited(time.Now())
		m.mu.Unlock()
		m.logger.Warn("relay rate limited", "relay", url, "reason", closeErr.Text)
	}
}

// CloseAll tears down every open connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.markClosed(nil)
	}
}

// Stats returns cumulative failure counters.
func (m *Manager) Stats() (dialFailures, rateLimitsTripped, droppedEvents int64) {
	return m.dialFailures.Load(), m.rateLimitsTripped.Load(), m.droppedEvents.Load()
}
