package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
)

// sweepBatch caps how many strategies one sweep dispatches.
const sweepBatch = 50

// Sweeper dispatches the next zone of every active strategy that has no
// session in flight, at background priority.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper creates a sweeper
func NewSweeper(o *Orchestrator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		orch:     o,
		interval: interval,
		log:      zap.L().With(zap.String("component", "sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass and returns how many zones it dispatched.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	strategies, err := s.orch.Strategies.ListDispatchable(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, st := range strategies {
		session, zone, err := s.orch.Dispatch(ctx, st.ID, domain.PriorityBackground)
		switch {
		case errors.Is(err, domain.ErrNoZonesRemaining):
			continue
		case errors.Is(err, domain.ErrOrchestratorUnavailable):
			// the queue is down; the next tick tries again
			return dispatched, err
		case err != nil:
			s.log.Warn("dispatch failed", zap.String("strategy_id", st.ID.String()), zap.Error(err))
			continue
		}

		dispatched++
		s.log.Debug("background zone dispatched",
			zap.String("strategy_id", st.ID.String()),
			zap.String("zone", zone.Code),
			zap.String("session_id", session.ID.String()),
		)
	}
	return dispatched, nil
}
