package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/cache"
	"github.com/sadewadee/leadscope/internal/domain"
)

// SessionService serves session status reads. Terminal sessions are cached
// for minutes, live ones for a couple of seconds.
type SessionService struct {
	sessions   domain.SessionRepository
	strategies domain.StrategyRepository
	cache      cache.Cache
	log        *zap.Logger
}

// NewSessionService creates a new SessionService
func NewSessionService(sessions domain.SessionRepository, strategies domain.StrategyRepository, c cache.Cache) *SessionService {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &SessionService{
		sessions:   sessions,
		strategies: strategies,
		cache:      c,
		log:        zap.L().With(zap.String("component", "session_service")),
	}
}

// GetStatus returns the poll-friendly view of a session
func (s *SessionService) GetStatus(ctx context.Context, id uuid.UUID) (*domain.SessionStatus, error) {
	key := cache.SessionKey(id.String())

	var cached domain.SessionStatus
	err := cache.GetJSON(ctx, s.cache, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Debug("session cache read", zap.Error(err))
	}

	status, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	ttl := cache.TTLSessionLive
	if status.State.IsTerminal() {
		ttl = cache.TTLSessionTerminal
	}
	if err := cache.SetJSON(ctx, s.cache, key, status, ttl); err != nil {
		s.log.Debug("session cache write", zap.Error(err))
	}
	return status, nil
}

// Load reads a session straight from the store, bypassing the cache
func (s *SessionService) Load(ctx context.Context, id uuid.UUID) (*domain.SessionStatus, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "service: load session")
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}

	status := &domain.SessionStatus{
		ScrapeSession: session,
		Percentage:    session.Counts.Percentage(),
	}

	zone, err := s.strategies.GetZone(ctx, session.ZoneID)
	if err != nil {
		return nil, eris.Wrap(err, "service: load zone")
	}
	if zone != nil {
		status.ZoneCode = zone.Code
		status.ZoneName = zone.Name
	}
	return status, nil
}

// List retrieves sessions with optional filtering
func (s *SessionService) List(ctx context.Context, params domain.SessionListParams) ([]*domain.ScrapeSession, int, error) {
	return s.sessions.List(ctx, params)
}

// Invalidate drops a cached session status
func (s *SessionService) Invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.SessionKey(id.String())); err != nil {
		s.log.Debug("session cache delete", zap.Error(err))
	}
}
