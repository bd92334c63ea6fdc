package cache

import (
	"context"
	"time"
)

// NoOpCache misses on every read. It backs cache.backend=none.
type NoOpCache struct{}

var _ Cache = (*NoOpCache)(nil)

// NewNoOpCache creates a new no-op cache
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (*NoOpCache) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (*NoOpCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (*NoOpCache) Delete(context.Context, string) error { return nil }

func (*NoOpCache) DeleteByPattern(context.Context, string) error { return nil }

func (*NoOpCache) Close() error { return nil }
