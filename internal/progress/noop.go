package progress

import (
	"context"

	"github.com/google/uuid"

	"github.com/sadewadee/leadscope/internal/domain"
)

// Noop drops every event. Its subscriptions stay silent until closed, so
// streams fall back to polling the session row.
type Noop struct{}

func (Noop) Publish(context.Context, domain.ProgressEvent) {}

func (Noop) Subscribe(ctx context.Context, _ uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(func() { close(sub.events) })
	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

func (Noop) Close() error { return nil }
