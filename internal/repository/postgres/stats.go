package postgres

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// StatsRepository implements domain.StatsRepository for PostgreSQL
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// GetStats aggregates counts across all tables
func (r *StatsRepository) GetStats(ctx context.Context) (*domain.Stats, error) {
	stats := &domain.Stats{
		Candidates: domain.CandidateStats{ByStatus: map[domain.VerificationStatus]int{}},
		Workers:    domain.WorkerStats{PoolWorkers: map[string]int{}},
	}

	strategyCounts, err := r.groupCount(ctx, `SELECT status, COUNT(*) FROM strategies GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for status, n := range strategyCounts {
		stats.Strategies.Total += n
		switch domain.StrategyStatus(status) {
		case domain.StrategyStatusActive:
			stats.Strategies.Active = n
		case domain.StrategyStatusExhausted:
			stats.Strategies.Exhausted = n
		case domain.StrategyStatusSuperseded:
			stats.Strategies.Superseded = n
		}
	}

	sessionCounts, err := r.groupCount(ctx, `SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return nil, err
	}
	for state, n := range sessionCounts {
		stats.Sessions.Total += n
		switch domain.SessionState(state) {
		case domain.SessionStateQueued:
			stats.Sessions.Queued = n
		case domain.SessionStateScraping:
			stats.Sessions.Scraping = n
		case domain.SessionStateValidating:
			stats.Sessions.Validating = n
		case domain.SessionStateCompleted:
			stats.Sessions.Completed = n
		case domain.SessionStateFailed:
			stats.Sessions.Failed = n
		}
	}

	candidateCounts, err := r.groupCount(ctx, `SELECT status, COUNT(*) FROM candidates GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for status, n := range candidateCounts {
		stats.Candidates.Total += n
		stats.Candidates.ByStatus[domain.VerificationStatus(status)] = n
	}

	workers, err := NewWorkerRepository(r.db).List(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		stats.Workers.TotalWorkers++
		if w.Status == domain.WorkerStatusOnline && w.IsOnline(domain.HeartbeatTimeout) {
			stats.Workers.OnlineWorkers++
			for _, p := range w.Pools {
				stats.Workers.PoolWorkers[p]++
			}
		} else {
			stats.Workers.OfflineWorkers++
		}
	}

	return stats, nil
}

func (r *StatsRepository) groupCount(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		out[key] = n
	}
	return out, rows.Err()
}
