// Package cache is a small TTL cache used for poll-heavy read paths such as
// session status and dashboard stats.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = eris.New("cache miss")

// Cache interface for caching operations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes all values matching a pattern (e.g., "cache:session:*")
	DeleteByPattern(ctx context.Context, pattern string) error

	// Close closes the cache connection
	Close() error
}

// Key prefixes
const (
	KeyPrefixSession  = "cache:session"
	KeyPrefixStrategy = "cache:strategy"
	KeyStats          = "cache:stats"
)

// TTLs
const (
	// TTLSessionLive applies to sessions that are still running
	TTLSessionLive = 2 * time.Second

	// TTLSessionTerminal applies to completed or failed sessions
	TTLSessionTerminal = 10 * time.Minute

	// TTLStats is the TTL for dashboard statistics
	TTLStats = 30 * time.Second
)

// SessionKey returns the cache key for a session status
func SessionKey(id string) string {
	return KeyPrefixSession + ":" + id
}

// GetJSON reads and decodes a cached value. Returns ErrCacheMiss when absent.
func GetJSON(ctx context.Context, c Cache, key string, dst any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return eris.Wrapf(err, "cache: decode %s", key)
	}
	return nil
}

// SetJSON encodes and stores a value
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "cache: encode %s", key)
	}
	return c.Set(ctx, key, data, ttl)
}
