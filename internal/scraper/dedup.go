package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Deduper is the fast-path identity check in front of the candidates
// unique index. A key is marked only after its candidate is stored, so a
// failed or interrupted insert never hides the business from a retry.
type Deduper interface {
	// Seen reports whether key was marked
	Seen(ctx context.Context, key string) (bool, error)

	// Mark records key as stored
	Mark(ctx context.Context, key string) error
}

// DedupKey builds the identity key of a business within a campaign
func DedupKey(region, category, externalID string) string {
	return fmt.Sprintf("%s|%s|%s", region, category, externalID)
}

// RedisDeduper provides distributed deduplication using Redis keys with a TTL
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper
func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "dedup"
	}
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) key(key string) string {
	return d.prefix + ":place:" + key
}

// Seen reports whether the key exists
func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(key)).Result()
	if err != nil {
		return false, eris.Wrap(err, "dedup: exists")
	}
	return n > 0, nil
}

// Mark sets the key, refreshing its TTL
func (d *RedisDeduper) Mark(ctx context.Context, key string) error {
	return eris.Wrap(d.client.Set(ctx, d.key(key), 1, d.ttl).Err(), "dedup: set")
}

// MemoryDeduper is an in-process Deduper for single-node mode and tests
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduper creates an empty MemoryDeduper
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: map[string]struct{}{}}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok, nil
}

func (d *MemoryDeduper) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = struct{}{}
	return nil
}
