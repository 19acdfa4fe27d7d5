package relay

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookstr/nostr"
)

// Subscription represents an active subscription on a relay connection
type Subscription struct {
	ID        string
	EventChan chan nostr.Event
	EOSEChan  chan bool
	Done      chan struct{}
	closeOnce sync.Once
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// okResult is a relay's OK response to a published event.
type okResult struct {
	Accepted bool
	Reason   string
}

// Conn manages a single websocket connection with multiple subscriptions.
type Conn struct {
	ws        *websocket.Conn
	url       string
	mu        sync.Mutex
	writeMu   sync.Mutex
	subs      map[string]*Subscription
	okWaiters map[string][]chan okResult // event id -> waiters
	closed    bool

	// onClosed reports the terminal read error back to the manager, which
	// inspects it for rate-limit close frames.
	onClosed func(c *Conn, err error)

	// onDropped counts events discarded in the read loop (unparseable,
	// bad signature, or receiver backpressure).
	onDropped func()

	logger *slog.Logger
}

func newConn(ws *websocket.Conn, url string, onClosed func(*Conn, error), onDropped func(), logger *slog.Logger) *Conn {
	if onDropped == nil {
		onDropped = func() {}
	}
	c := &Conn{
		ws:        ws,
		url:       url,
		subs:      make(map[string]*Subscription),
		okWaiters: make(map[string][]chan okResult),
		onClosed:  onClosed,
		onDropped: onDropped,
		logger:    logger,
	}
	go c.readLoop()
	return c
}

// URL returns the endpoint this connection is attached to.
func (c *Conn) URL() string {
	return c.url
}

// Subscribe sends a REQ for the filter and returns the live subscription.
func (c *Conn) Subscribe(filter nostr.Filter) (*Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("connection closed")
	}
	sub := &Subscription{
		ID:        "sub-" + randomID(),
		EventChan: make(chan nostr.Event, 100),
		EOSEChan:  make(chan bool, 1),
		Done:      make(chan struct{}),
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	req := []interface{}{"REQ", sub.ID, filter.ToWire()}
	if err := c.writeJSON(req); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		c.markClosed(err)
		return nil, err
	}
	return sub, nil
}

// Unsubscribe sends CLOSE for the subscription and releases it.
func (c *Conn) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	c.mu.Lock()
	_, exists := c.subs[sub.ID]
	shouldSendClose := !c.closed && exists
	if exists {
		delete(c.subs, sub.ID)
	}
	c.mu.Unlock()

	// Best effort; the connection may already be gone
	if shouldSendClose {
		c.writeJSON([]interface{}{"CLOSE", sub.ID})
	}

	sub.Close()
}

// awaitOK registers interest in the relay's OK response for an event id.
func (c *Conn) awaitOK(eventID string) <-chan okResult {
	ch := make(chan okResult, 1)
	c.mu.Lock()
	c.okWaiters[eventID] = append(c.okWaiters[eventID], ch)
	c.mu.Unlock()
	return ch
}

// writeJSON sends a message with a write deadline to prevent indefinite blocking.
func (c *Conn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	defer c.ws.SetWriteDeadline(time.Time{})

	return c.ws.WriteJSON(v)
}

// readLoop continuously reads from the connection and routes messages.
func (c *Conn) readLoop() {
	for {
		var msg []interface{}
		err := c.ws.ReadJSON(&msg)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Debug("relay read error", "relay", c.url, "error", err)
			}
			c.markClosed(err)
			return
		}

		if len(msg) < 2 {
			continue
		}

		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}

			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				c.onDropped()
				continue
			}
			evt.RelaysSeen = []string{c.url}

			c.mu.Lock()
			sub := c.subs[subID]
			c.mu.Unlock()

			if sub != nil {
				select {
				case sub.EventChan <- evt:
				case <-sub.Done:
				default:
					// Channel full, drop event
					c.onDropped()
				}
			}

		case "EOSE":
			subID, ok := msg[1].(string)
			if !ok {
				continue
			}

			c.mu.Lock()
			sub := c.subs[subID]
			c.mu.Unlock()

			if sub != nil {
				select {
				case sub.EOSEChan <- true:
				default:
				}
			}

		case "OK":
			if len(msg) < 3 {
				continue
			}
			eventID, _ := msg[1].(string)
			accepted, _ := msg[2].(bool)
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}

			c.mu.Lock()
			waiters := c.okWaiters[eventID]
			delete(c.okWaiters, eventID)
			c.mu.Unlock()

			for _, ch := range waiters {
				ch <- okResult{Accepted: accepted, Reason: reason}
			}

		case "CLOSED":
			// Subscription was closed by the relay
			subID, _ := msg[1].(string)
			c.mu.Lock()
			sub := c.subs[subID]
			if sub != nil {
				delete(c.subs, subID)
			}
			c.mu.Unlock()
			if sub != nil {
				sub.Close()
			}

		case "NOTICE":
			notice, _ := msg[1].(string)
			c.logger.Debug("relay notice", "relay", c.url, "notice", notice)
		}
	}
}

// markClosed marks the connection as closed and cleans up.
func (c *Conn) markClosed(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.ws.Close()

	for _, sub := range c.subs {
		sub.Close()
	}
	c.subs = make(map[string]*Subscription)

	for _, waiters := range c.okWaiters {
		for _, ch := range waiters {
			close(ch)
		}
	}
	c.okWaiters = make(map[string][]chan okResult)
	c.mu.Unlock()

	if c.onClosed != nil {
		c.onClosed(c, err)
	}
}

// isClosed reports whether the connection has been torn down.
func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
