package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookstr/nostr"
)

// defaultQueryTimeout bounds a fan-out query when the caller's context has
// no earlier deadline.
const defaultQueryTimeout = 3 * time.Second

// FetchEvents issues the filter against every open connection in parallel
// and combines the results after all branches settle or the timeout elapses.
// Failed branches contribute nothing; they are not errors.
//
// Results are deduplicated by event id, sorted by CreatedAt descending (id
// tiebreak), and truncated to the filter limit after deduplication.
func (m *Manager) FetchEvents(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	conns, err := m.Connect(ctx, false)
	if err != nil {
		return nil, err
	}
	return fanOut(ctx, conns, filter), nil
}

func fanOut(ctx context.Context, conns []*Conn, filter nostr.Filter) []nostr.Event {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	eventChan := make(chan nostr.Event, 1000)

	for _, conn := range conns {
		wg.Add(1)
		go func(conn *Conn) {
			defer wg.Done()
			collectFromConn(ctx, conn, filter, eventChan)
		}(conn)
	}

	go func() {
		wg.Wait()
		close(eventChan)
	}()

	seenIDs := make(map[string]bool)
	events := []nostr.Event{}
	// Collect 2x limit to leave headroom for deduplication
	targetCount := filter.Limit * 2

collectLoop:
	for {
		select {
		case evt, ok := <-eventChan:
			if !ok {
				break collectLoop
			}
			if !seenIDs[evt.ID] {
				seenIDs[evt.ID] = true
				events = append(events, evt)
				if targetCount > 0 && len(events) >= targetCount {
					break collectLoop
				}
			}
		case <-ctx.Done():
			break collectLoop
		}
	}

	// Sort by created_at DESC, then by ID DESC for tie-break
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})

	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}

	return events
}

// collectFromConn subscribes on one connection and forwards stored events
// until EOSE or the context expires.
func collectFromConn(ctx context.Context, conn *Conn, filter nostr.Filter, out chan<- nostr.Event) {
	sub, err := conn.Subscribe(filter)
	if err != nil {
		return
	}
	defer conn.Unsubscribe(sub)

	for {
		select {
		case evt := <-sub.EventChan:
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		case <-sub.EOSEChan:
			return
		case <-sub.Done:
			return
		case <-ctx.Done():
			return
		}
	}
}
