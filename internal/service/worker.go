package service

import (
	"context"

	"github.com/sadewadee/leadscope/internal/domain"
)

// WorkerService exposes the worker registry
type WorkerService struct {
	workers domain.WorkerRepository
}

// NewWorkerService creates a new WorkerService
func NewWorkerService(workers domain.WorkerRepository) *WorkerService {
	return &WorkerService{workers: workers}
}

// List retrieves all workers. A worker whose heartbeat lapsed is reported
// offline even before the monitor marks it.
func (s *WorkerService) List(ctx context.Context) ([]*domain.Worker, error) {
	workers, err := s.workers.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		if !w.IsOnline(domain.HeartbeatTimeout) {
			w.Status = domain.WorkerStatusOffline
		}
	}
	return workers, nil
}

// GetStats aggregates the registry
func (s *WorkerService) GetStats(ctx context.Context) (*domain.WorkerStats, error) {
	workers, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &domain.WorkerStats{PoolWorkers: map[string]int{}}
	for _, w := range workers {
		stats.TotalWorkers++
		if w.Status != domain.WorkerStatusOnline {
			stats.OfflineWorkers++
			continue
		}
		stats.OnlineWorkers++
		for _, p := range w.Pools {
			stats.PoolWorkers[p]++
		}
	}
	return stats, nil
}

// Unregister removes a worker
func (s *WorkerService) Unregister(ctx context.Context, workerID string) error {
	return s.workers.Delete(ctx, workerID)
}
