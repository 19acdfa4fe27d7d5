package enrich

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Batcher coalesces concurrent profile lookups into single relay queries.
// Overlapping pubkey sets merge into one batch, so three concurrent requests
// for [a,b,c], [a,d] and [b,e] cost one REQ for [a,b,c,d,e] instead of
// three. This is stronger than singleflight, which only collapses identical
// requests.
type Batcher struct {
	fetch    func(pubkeys []string) map[string]*Profile
	window   time.Duration
	maxBatch int
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // merged pubkey set for the open batch
	waiters []*lookupWaiter
	flush   *time.Timer
}

// lookupWaiter is one blocked LookupMany call. done carries the slice of the
// batch result restricted to the waiter's own pubkeys.
type lookupWaiter struct {
	pubkeys []string
	done    chan map[string]*Profile
}

// NewBatcher creates a batcher over the given fetch function. window is how
// long the first lookup in a batch waits for others to pile on; maxBatch
// flushes early once that many distinct pubkeys are pending (0 = unbounded).
func NewBatcher(fetch func(pubkeys []string) map[string]*Profile, window time.Duration, maxBatch int, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		fetch:    fetch,
		window:   window,
		maxBatch: maxBatch,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// Lookup resolves a single pubkey through the current batch.
func (b *Batcher) Lookup(ctx context.Context, pubkey string) *Profile {
	return b.LookupMany(ctx, []string{pubkey})[pubkey]
}

// LookupMany resolves pubkeys through the current batch, blocking until the
// batch executes or ctx is done. Pubkeys that did not resolve are absent
// from the result; on ctx cancellation the result is nil (the batch itself
// still runs for the other waiters).
func (b *Batcher) LookupMany(ctx context.Context, pubkeys []string) map[string]*Profile {
	if len(pubkeys) == 0 {
		return nil
	}

	w := &lookupWaiter{
		pubkeys: pubkeys,
		done:    make(chan map[string]*Profile, 1),
	}

	b.mu.Lock()
	for _, pk := range pubkeys {
		b.pending[pk] = struct{}{}
	}
	b.waiters = append(b.waiters, w)

	if b.flush == nil {
		b.flush = time.AfterFunc(b.window, b.run)
	}
	full := b.maxBatch > 0 && len(b.pending) >= b.maxBatch
	if full {
		b.flush.Stop()
	}
	b.mu.Unlock()

	if full {
		b.run()
	}

	select {
	case result := <-w.done:
		return result
	case <-ctx.Done():
		return nil
	}
}

// run executes the open batch and fans results out to its waiters.
func (b *Batcher) run() {
	b.mu.Lock()
	pending := b.pending
	waiters := b.waiters
	b.pending = make(map[string]struct{})
	b.waiters = nil
	b.flush = nil
	b.mu.Unlock()

	if len(waiters) == 0 {
		return
	}

	pubkeys := make([]string, 0, len(pending))
	for pk := range pending {
		pubkeys = append(pubkeys, pk)
	}

	b.logger.Debug("executing profile batch", "pubkeys", len(pubkeys), "waiters", len(waiters))
	profiles := b.fetch(pubkeys)

	for _, w := range waiters {
		slice := make(map[string]*Profile, len(w.pubkeys))
		for _, pk := range w.pubkeys {
			if p, ok := profiles[pk]; ok {
				slice[pk] = p
			}
		}
		w.done <- slice
	}
}

// Stats reports the open batch: distinct pending pubkeys and blocked callers.
func (b *Batcher) Stats() (pendingKeys, pendingWaiters int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending), len(b.waiters)
}
