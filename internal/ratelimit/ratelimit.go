// Package ratelimit provides the shared throttle placed in front of the
// web-search provider.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Limiter blocks until the caller may issue one call
type Limiter interface {
	Wait(ctx context.Context) error
}

// Local is an in-process token bucket
type Local struct {
	limiter *rate.Limiter
}

// NewLocal allows one call per interval with no burst
func NewLocal(interval time.Duration) *Local {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Local{limiter: rate.NewLimiter(limit, 1)}
}

// Wait implements Limiter
func (l *Local) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "ratelimit: wait")
	}
	return nil
}

// Redis shares one slot per interval between processes. The slot is a key
// set with NX and a TTL equal to the interval.
type Redis struct {
	client   *redis.Client
	key      string
	interval time.Duration
}

// NewRedis creates a Redis limiter named name
func NewRedis(client *redis.Client, name string, interval time.Duration) *Redis {
	if interval <= 0 {
		interval = time.Second
	}
	return &Redis{
		client:   client,
		key:      "ratelimit:" + name,
		interval: interval,
	}
}

// Wait implements Limiter
func (r *Redis) Wait(ctx context.Context) error {
	for {
		ok, err := r.client.SetNX(ctx, r.key, 1, r.interval).Result()
		if err != nil {
			return eris.Wrap(err, "ratelimit: acquire slot")
		}
		if ok {
			return nil
		}

		wait, err := r.client.PTTL(ctx, r.key).Result()
		if err != nil {
			return eris.Wrap(err, "ratelimit: read slot ttl")
		}
		// key without expiry or already gone
		if wait <= 0 || wait > r.interval {
			wait = r.interval / 10
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return eris.Wrap(ctx.Err(), "ratelimit: wait")
		case <-t.C:
		}
	}
}

// Unlimited never blocks
type Unlimited struct{}

// Wait implements Limiter
func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}
