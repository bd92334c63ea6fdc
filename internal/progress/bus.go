// Package progress fans out per-session progress events. Delivery is best
// effort: a lost event is never fatal because the session row carries the
// same counters.
package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/internal/domain"
)

// subscriptionBuffer is how many undelivered events a slow subscriber may
// lag behind before new events are dropped for it.
const subscriptionBuffer = 64

// Bus publishes and subscribes to session progress events.
type Bus interface {
	// Publish never blocks on slow subscribers and never fails the caller.
	Publish(ctx context.Context, event domain.ProgressEvent)
	Subscribe(ctx context.Context, sessionID uuid.UUID) (*Subscription, error)
	Close() error
}

// Subscription receives the events of one session until it is closed or
// its context ends.
type Subscription struct {
	events chan domain.ProgressEvent
	once   sync.Once
	stop   func()
}

func newSubscription(stop func()) *Subscription {
	return &Subscription{
		events: make(chan domain.ProgressEvent, subscriptionBuffer),
		stop:   stop,
	}
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan domain.ProgressEvent {
	return s.events
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// offer delivers without blocking and reports whether the event fit.
func (s *Subscription) offer(ev domain.ProgressEvent) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Open builds the bus selected by cfg.Progress.Backend. rdb may be nil
// unless the redis backend is selected.
func Open(cfg *config.Config, rdb *redis.Client) (Bus, error) {
	switch cfg.Progress.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		if rdb == nil {
			return nil, eris.New("progress: redis backend needs a redis client")
		}
		return NewRedis(rdb), nil
	case "amqp":
		return NewAMQP(cfg.AMQP)
	case "noop":
		return Noop{}, nil
	default:
		return nil, eris.Errorf("progress: unknown backend %q", cfg.Progress.Backend)
	}
}

func logger(backend string) *zap.Logger {
	return zap.L().With(zap.String("component", "progress"), zap.String("backend", backend))
}
