package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookstr/nostr"
)

// AckPolicy controls what counts as a successful publish. Relays commonly do
// not acknowledge writes, so the optimistic policy is the default; strict
// mode demands at least one positive OK frame.
type AckPolicy int

const (
	AckOptimistic AckPolicy = iota
	AckStrict
)

// ErrPublishNotAcked is returned under AckStrict when no relay accepted the
// event before the timeout.
var ErrPublishNotAcked = errors.New("no relay acknowledged the event")

// defaultAckTimeout bounds the wait for OK frames under AckStrict.
const defaultAckTimeout = 5 * time.Second

// Publisher writes signed events to all open relay connections.
type Publisher struct {
	mgr        *Manager
	policy     AckPolicy
	ackTimeout time.Duration
	logger     *slog.Logger
}

// NewPublisher creates a publisher with the given acknowledgment policy.
func NewPublisher(mgr *Manager, policy AckPolicy, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		mgr:        mgr,
		policy:     policy,
		ackTimeout: defaultAckTimeout,
		logger:     logger,
	}
}

// Publish sends a signed event to every open relay.
//
// Under AckOptimistic, writing the frame to at least one socket is success.
// Under AckStrict, at least one relay must answer with a positive OK within
// the ack timeout.
func (p *Publisher) Publish(ctx context.Context, evt *nostr.Event) error {
	if evt.ID == "" || evt.Sig == "" {
		return errors.New("event must be signed before publishing")
	}

	conns, err := p.mgr.Connect(ctx, false)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	var acks []<-chan okResult
	written := 0
	for _, conn := range conns {
		if p.policy == AckStrict {
			acks = append(acks, conn.awaitOK(evt.ID))
		}
		if err := conn.writeJSON([]interface{}{"EVENT", evt}); err != nil {
			p.logger.Debug("publish write failed", "relay", conn.URL(), "error", err)
			continue
		}
		written++
	}

	if written == 0 {
		return fmt.Errorf("publish: %w", ErrNoRelaysReachable)
	}

	if p.policy == AckOptimistic {
		p.logger.Debug("event published", "event_id", nostr.ShortID(evt.ID), "relays", written)
		return nil
	}

	return p.awaitAck(ctx, evt, acks)
}

// awaitAck waits for the first positive OK. Negative OKs are logged and
// counted; all-negative or timeout is ErrPublishNotAcked.
func (p *Publisher) awaitAck(ctx context.Context, evt *nostr.Event, acks []<-chan okResult) error {
	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()

	merged := make(chan okResult, len(acks))
	for _, ch := range acks {
		go func(ch <-chan okResult) {
			if res, ok := <-ch; ok {
				merged <- res
			}
		}(ch)
	}

	rejected := 0
	for rejected < len(acks) {
		select {
		case res := <-merged:
			if res.Accepted {
				p.logger.Debug("event acknowledged", "event_id", nostr.ShortID(evt.ID))
				return nil
			}
			rejected++
			p.logger.Warn("relay rejected event",
				"event_id", nostr.ShortID(evt.ID), "reason", res.Reason)
		case <-timer.C:
			return ErrPublishNotAcked
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrPublishNotAcked
}
