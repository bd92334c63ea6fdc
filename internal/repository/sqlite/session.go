package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// SessionRepository implements domain.SessionRepository for SQLite
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, strategy_id, zone_id, priority, state,
	total, scraped, validated, discovered,
	failure_reason, warnings, created_at, updated_at, started_at, finished_at`

const activeStates = `('queued', 'scraping', 'validating')`

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScrapeSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// List retrieves sessions with optional filtering
func (r *SessionRepository) List(ctx context.Context, params domain.SessionListParams) ([]*domain.ScrapeSession, int, error) {
	var conditions []string
	var args []any

	if params.StrategyID != nil {
		conditions = append(conditions, "strategy_id = ?")
		args = append(args, params.StrategyID.String())
	}
	if params.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, *params.State)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count sessions")
	}

	limit := 20
	if params.Limit > 0 {
		limit = params.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM sessions %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, sessionColumns, where)
	out, err := r.query(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Transition moves a session from one state to another
func (r *SessionRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.SessionState) (bool, error) {
	now := nowString()

	set := "state = ?, updated_at = ?"
	args := []any{to, now}

	switch {
	case to == domain.SessionStateScraping:
		set += ", started_at = COALESCE(started_at, ?)"
		args = append(args, now)
	case to.IsTerminal():
		set += ", finished_at = ?"
		args = append(args, now)
	}

	args = append(args, id.String(), from)
	return r.exec(ctx, `UPDATE sessions SET `+set+` WHERE id = ? AND state = ?`, args...)
}

// SetAcquired records provider totals and moves scraping -> validating
func (r *SessionRepository) SetAcquired(ctx context.Context, id uuid.UUID, total, scraped int) (bool, error) {
	return r.exec(ctx, `
		UPDATE sessions SET total = ?, scraped = ?, state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		total, scraped, domain.SessionStateValidating, nowString(),
		id.String(), domain.SessionStateScraping,
	)
}

// Complete moves validating -> completed once every scraped candidate is validated
func (r *SessionRepository) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	now := nowString()
	return r.exec(ctx, `
		UPDATE sessions SET state = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state = ? AND validated >= scraped`,
		domain.SessionStateCompleted, now, now,
		id.String(), domain.SessionStateValidating,
	)
}

// Fail marks a non-terminal session failed with a reason
func (r *SessionRepository) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	now := nowString()
	return r.exec(ctx, `
		UPDATE sessions SET state = ?, failure_reason = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state IN `+activeStates,
		domain.SessionStateFailed, reason, now, now, id.String(),
	)
}

// AddWarning appends a warning to the session
func (r *SessionRepository) AddWarning(ctx context.Context, id uuid.UUID, warning string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET warnings = json_insert(warnings, '$[#]', ?), updated_at = ?
		WHERE id = ?`,
		warning, nowString(), id.String(),
	)
	return eris.Wrap(err, "sqlite: add warning")
}

// ListStale returns active sessions not updated since before
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time) ([]*domain.ScrapeSession, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE state IN `+activeStates+` AND updated_at < ?
		ORDER BY updated_at ASC`,
		formatTime(before),
	)
}

// ActiveByStrategy counts active sessions for a strategy
func (r *SessionRepository) ActiveByStrategy(ctx context.Context, strategyID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE strategy_id = ? AND state IN `+activeStates,
		strategyID.String(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count active sessions")
}

// ListUnreconciled returns completed sessions whose zone is not yet marked complete
func (r *SessionRepository) ListUnreconciled(ctx context.Context, limit int) ([]*domain.ScrapeSession, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT s.id, s.strategy_id, s.zone_id, s.priority, s.state,
			s.total, s.scraped, s.validated, s.discovered,
			s.failure_reason, s.warnings, s.created_at, s.updated_at, s.started_at, s.finished_at
		FROM sessions s
		JOIN zones z ON z.id = s.zone_id
		WHERE s.state = ? AND z.completed = 0
		LIMIT ?`,
		domain.SessionStateCompleted, limit,
	)
}

func (r *SessionRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: update session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (r *SessionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.ScrapeSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query sessions")
	}
	defer rows.Close()

	var out []*domain.ScrapeSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*domain.ScrapeSession, error) {
	s := &domain.ScrapeSession{}
	var id, strategyID, zoneID, state, warnings, createdAt, updatedAt string
	var failureReason, startedAt, finishedAt sql.NullString

	err := row.Scan(
		&id, &strategyID, &zoneID, &s.Priority, &state,
		&s.Counts.Total, &s.Counts.Scraped, &s.Counts.Validated, &s.Counts.Discovered,
		&failureReason, &warnings, &createdAt, &updatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse session id")
	}
	s.StrategyID, _ = uuid.Parse(strategyID)
	s.ZoneID, _ = uuid.Parse(zoneID)
	s.State = domain.SessionState(state)
	s.FailureReason = stringPtr(failureReason)
	if warnings != "" {
		_ = json.Unmarshal([]byte(warnings), &s.Warnings)
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.StartedAt = parseNullTime(startedAt)
	s.FinishedAt = parseNullTime(finishedAt)

	return s, nil
}
