package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
)

// Memory is an in-process bus.
type Memory struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*Subscription]struct{}
	closed bool
	log    *zap.Logger
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[uuid.UUID]map[*Subscription]struct{}),
		log:  logger("memory"),
	}
}

// Publish delivers ev to every current subscriber of its session.
func (m *Memory) Publish(_ context.Context, ev domain.ProgressEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for sub := range m.subs[ev.SessionID] {
		if !sub.offer(ev) {
			m.log.Debug("subscriber lagging, event dropped",
				zap.String("session_id", ev.SessionID.String()),
				zap.String("event", string(ev.Type)),
			)
		}
	}
}

// Subscribe registers a subscriber for one session.
func (m *Memory) Subscribe(ctx context.Context, sessionID uuid.UUID) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[sessionID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(m.subs, sessionID)
			}
		}
		close(sub.events)
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	set, ok := m.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		m.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	m.mu.Unlock()

	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

// Subscribers returns how many subscriptions a session has.
func (m *Memory) Subscribers(sessionID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[sessionID])
}

// Close ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	var all []*Subscription
	for _, set := range m.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	m.closed = true
	m.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	return nil
}
