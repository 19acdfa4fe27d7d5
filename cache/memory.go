package cache

import (
	"context"
	"sync"
	"time"

	"bookstr/internal/util"
)

// Memory implements Backend with an in-process bounded map. Query and feed
// entries churn quickly, so the size bound is enforced at insert time by
// evicting whichever entry expires soonest; a janitor clears expired entries
// between accesses.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	maxSize int

	sweepPeriod time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// NewMemory creates an in-memory cache backend holding at most maxSize
// entries, sweeping expired ones every sweepPeriod.
func NewMemory(maxSize int, sweepPeriod time.Duration) *Memory {
	m := &Memory{
		entries:     make(map[string]memoryEntry),
		maxSize:     maxSize,
		sweepPeriod: sweepPeriod,
		stopCh:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		m.Delete(ctx, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}

	m.mu.Lock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		m.evictLocked()
	}
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	result := make(map[string][]byte)
	var dead []string

	m.mu.RLock()
	for _, key := range keys {
		entry, ok := m.entries[key]
		if !ok {
			continue
		}
		if entry.expired(now) {
			dead = append(dead, key)
			continue
		}
		result[key] = entry.value
	}
	m.mu.RUnlock()

	for _, key := range dead {
		m.Delete(ctx, key)
	}
	return result, nil
}

func (m *Memory) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		m.Set(ctx, key, value, ttl)
	}
	return nil
}

// Len reports the number of live entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

// evictLocked drops the entry closest to expiry. Preferring an expired entry
// when one exists, this loses the least cache value per eviction. Callers
// hold the write lock.
func (m *Memory) evictLocked() {
	var victim string
	var found bool
	var soonest time.Time
	for key, entry := range m.entries {
		if !found || entry.expiresAt.Before(soonest) {
			victim, soonest, found = key, entry.expiresAt, true
		}
	}
	if found {
		delete(m.entries, victim)
	}
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(m.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes every expired entry.
func (m *Memory) sweep() {
	m.mu.RLock()
	keys := util.MapKeys(m.entries)
	m.mu.RUnlock()

	now := time.Now()
	m.mu.Lock()
	for _, key := range keys {
		if entry, ok := m.entries[key]; ok && entry.expired(now) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}
