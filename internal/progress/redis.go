package progress

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
)

var errClosed = eris.New("progress: bus closed")

// Channel returns the pub/sub channel carrying a session's events.
func Channel(sessionID uuid.UUID) string {
	return "progress:" + sessionID.String()
}

// Redis is a bus over Redis pub/sub, shared by every manager and worker
// process.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis creates a bus on an existing client. The client is not closed by
// the bus.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, log: logger("redis")}
}

func (r *Redis) Publish(ctx context.Context, ev domain.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.log.Debug("encode event", zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, Channel(ev.SessionID), data).Err(); err != nil {
		r.log.Debug("publish event",
			zap.String("session_id", ev.SessionID.String()),
			zap.Error(err),
		)
	}
}

func (r *Redis) Subscribe(ctx context.Context, sessionID uuid.UUID) (*Subscription, error) {
	ps := r.client.Subscribe(ctx, Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, eris.Wrap(err, "progress: redis subscribe")
	}

	done := make(chan struct{})
	sub := newSubscription(func() {
		close(done)
		_ = ps.Close()
	})

	go func() {
		defer close(sub.events)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Debug("decode event", zap.Error(err))
					continue
				}
				if !sub.offer(ev) {
					r.log.Debug("subscriber lagging, event dropped", zap.String("session_id", sessionID.String()))
				}
			}
		}
	}()

	return sub, nil
}

// Close is a no-op; the client belongs to the caller.
func (r *Redis) Close() error {
	return nil
}
