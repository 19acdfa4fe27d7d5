// Package cache provides the query result cache and its storage backends.
//
// Raw result sets are cached under canonical filter keys with two effective
// TTL tiers: entries younger than the fresh TTL are served directly; entries
// past it but younger than the stale TTL are served immediately while a
// background refresh is issued (stale-while-revalidate).
package cache

import (
	"context"
	"time"
)

// Backend defines the interface for cache storage implementations.
type Backend interface {
	// Get retrieves a value from the cache.
	// Returns (value, found, error).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// GetMultiple retrieves multiple values from the cache.
	// Returns a map of found keys to values.
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMultiple stores multiple values with the given TTL.
	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close closes the cache connection.
	Close() error
}
