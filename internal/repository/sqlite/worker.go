package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// WorkerRepository implements domain.WorkerRepository for SQLite
type WorkerRepository struct {
	db *sql.DB
}

// NewWorkerRepository creates a new WorkerRepository
func NewWorkerRepository(db *sql.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// Upsert creates or updates a worker (for heartbeat)
func (r *WorkerRepository) Upsert(ctx context.Context, w *domain.Worker) error {
	pools, err := json.Marshal(w.Pools)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pools")
	}
	concurrency, err := json.Marshal(w.Concurrency)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal concurrency")
	}

	now := nowString()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workers (
			id, hostname, status, pools, concurrency,
			cpu_percent, memory_percent, last_heartbeat, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			status = excluded.status,
			pools = excluded.pools,
			concurrency = excluded.concurrency,
			cpu_percent = excluded.cpu_percent,
			memory_percent = excluded.memory_percent,
			last_heartbeat = excluded.last_heartbeat`,
		w.ID, w.Hostname, w.Status, string(pools), string(concurrency),
		w.CPUPercent, w.MemoryPercent, now, now,
	)
	return eris.Wrap(err, "sqlite: upsert worker")
}

// List retrieves all workers
func (r *WorkerRepository) List(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, hostname, status, pools, concurrency,
			cpu_percent, memory_percent, last_heartbeat, created_at
		FROM workers
		ORDER BY last_heartbeat DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workers")
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		w := &domain.Worker{}
		var status, pools, concurrency, lastHeartbeat, createdAt string

		if err := rows.Scan(
			&w.ID, &w.Hostname, &status, &pools, &concurrency,
			&w.CPUPercent, &w.MemoryPercent, &lastHeartbeat, &createdAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan worker")
		}

		w.Status = domain.WorkerStatus(status)
		_ = json.Unmarshal([]byte(pools), &w.Pools)
		_ = json.Unmarshal([]byte(concurrency), &w.Concurrency)
		w.LastHeartbeat = parseTime(lastHeartbeat)
		w.CreatedAt = parseTime(createdAt)

		workers = append(workers, w)
	}

	return workers, rows.Err()
}

// MarkOffline marks workers offline if their heartbeat is older than timeout
func (r *WorkerRepository) MarkOffline(ctx context.Context, timeout time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workers SET status = ?
		WHERE status = ? AND last_heartbeat < ?`,
		domain.WorkerStatusOffline, domain.WorkerStatusOnline,
		formatTime(time.Now().Add(-timeout)),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark workers offline")
	}

	n, err := res.RowsAffected()
	return int(n), err
}

// Delete deletes a worker by ID
func (r *WorkerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete worker")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}
