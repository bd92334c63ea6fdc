package service

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/cache"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/queue"
)

// StatsService handles statistics aggregation
type StatsService struct {
	stats domain.StatsRepository
	queue queue.Inspector
	cache cache.Cache
}

// NewStatsService creates a new StatsService. The queue inspector may be nil.
func NewStatsService(stats domain.StatsRepository, inspector queue.Inspector, c cache.Cache) *StatsService {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &StatsService{
		stats: stats,
		queue: inspector,
		cache: c,
	}
}

// GetStats retrieves aggregated statistics for the dashboard
func (s *StatsService) GetStats(ctx context.Context) (*domain.Stats, error) {
	var cached domain.Stats
	if err := cache.GetJSON(ctx, s.cache, cache.KeyStats, &cached); err == nil {
		return &cached, nil
	}

	stats, err := s.stats.GetStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "service: get stats")
	}

	_ = cache.SetJSON(ctx, s.cache, cache.KeyStats, stats, cache.TTLStats)
	return stats, nil
}

// Queues returns per sub-queue depth, or nil when no inspector is wired
func (s *StatsService) Queues(ctx context.Context) ([]queue.Stats, error) {
	if s.queue == nil {
		return []queue.Stats{}, nil
	}
	return s.queue.Stats(ctx)
}
