package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// WorkerRepository implements domain.WorkerRepository for PostgreSQL
type WorkerRepository struct {
	db *sql.DB
}

// NewWorkerRepository creates a new WorkerRepository
func NewWorkerRepository(db *sql.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Upsert creates or updates a worker (for heartbeat)
func (r *WorkerRepository) Upsert(ctx context.Context, w *domain.Worker) error {
	concurrency, err := json.Marshal(w.Concurrency)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal concurrency")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workers (
			id, hostname, status, pools, concurrency,
			cpu_percent, memory_percent, last_heartbeat, created_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			status = EXCLUDED.status,
			pools = EXCLUDED.pools,
			concurrency = EXCLUDED.concurrency,
			cpu_percent = EXCLUDED.cpu_percent,
			memory_percent = EXCLUDED.memory_percent,
			last_heartbeat = NOW()`,
		w.ID, w.Hostname, w.Status, pq.Array(w.Pools), concurrency,
		w.CPUPercent, w.MemoryPercent,
	)
	return eris.Wrap(err, "postgres: upsert worker")
}

// List retrieves all workers
func (r *WorkerRepository) List(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hostname, status, pools, concurrency,
			cpu_percent, memory_percent, last_heartbeat, created_at
		FROM workers
		ORDER BY last_heartbeat DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workers")
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		w := &domain.Worker{}
		var status string
		var pools pq.StringArray
		var concurrency []byte

		if err := rows.Scan(
			&w.ID, &w.Hostname, &status, &pools, &concurrency,
			&w.CPUPercent, &w.MemoryPercent, &w.LastHeartbeat, &w.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan worker")
		}

		w.Status = domain.WorkerStatus(status)
		w.Pools = []string(pools)
		_ = json.Unmarshal(concurrency, &w.Concurrency)

		workers = append(workers, w)
	}

	return workers, rows.Err()
}

// MarkOffline marks workers offline if their heartbeat is older than timeout
func (r *WorkerRepository) MarkOffline(ctx context.Context, timeout time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workers SET status = $1
		WHERE status = $2 AND last_heartbeat < $3`,
		domain.WorkerStatusOffline, domain.WorkerStatusOnline, time.Now().Add(-timeout),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark workers offline")
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// Delete deletes a worker by ID
func (r *WorkerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM workers WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "postgres: delete worker")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}
