package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// SessionRepository implements domain.SessionRepository for PostgreSQL
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	s.id, s.strategy_id, s.zone_id, s.priority, s.state,
	s.total, s.scraped, s.validated, s.discovered,
	s.failure_reason, s.warnings, s.created_at, s.updated_at, s.started_at, s.finished_at`

const activeStates = `('queued', 'scraping', 'validating')`

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScrapeSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, id))
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
		args = append(args, *params.StrategyID)
		conditions = append(conditions, fmt.Sprintf("s.strategy_id = $%d", len(args)))
	}
	if params.State != nil {
		args = append(args, *params.State)
		conditions = append(conditions, fmt.Sprintf("s.state = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions s "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count sessions")
	}

	limit := 20
	if params.Limit > 0 {
		limit = params.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM sessions s %s ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, where, len(args)+1, len(args)+2)
	out, err := r.query(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Transition moves a session from one state to another
func (r *SessionRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.SessionState) (bool, error) {
	extra := ""
	switch {
	case to == domain.SessionStateScraping:
		extra = ", started_at = COALESCE(started_at, NOW())"
	case to.IsTerminal():
		extra = ", finished_at = NOW()"
	}

	return r.exec(ctx,
		`UPDATE sessions SET state = $1, updated_at = NOW()`+extra+` WHERE id = $2 AND state = $3`,
		to, id, from,
	)
}

// SetAcquired records provider totals and moves scraping -> validating
func (r *SessionRepository) SetAcquired(ctx context.Context, id uuid.UUID, total, scraped int) (bool, error) {
	return r.exec(ctx, `
		UPDATE sessions SET total = $1, scraped = $2, state = $3, updated_at = NOW()
		WHERE id = $4 AND state = $5`,
		total, scraped, domain.SessionStateValidating, id, domain.SessionStateScraping,
	)
}

// Complete moves validating -> completed once every scraped candidate is validated
func (r *SessionRepository) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exec(ctx, `
		UPDATE sessions SET state = $1, finished_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND state = $3 AND validated >= scraped`,
		domain.SessionStateCompleted, id, domain.SessionStateValidating,
	)
}

// Fail marks a non-terminal session failed with a reason
func (r *SessionRepository) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.exec(ctx, `
		UPDATE sessions SET state = $1, failure_reason = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND state IN `+activeStates,
		domain.SessionStateFailed, reason, id,
	)
}

// AddWarning appends a warning to the session
func (r *SessionRepository) AddWarning(ctx context.Context, id uuid.UUID, warning string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET warnings = array_append(warnings, $1), updated_at = NOW() WHERE id = $2`,
		warning, id,
	)
	return eris.Wrap(err, "postgres: add warning")
}

// ListStale returns active sessions not updated since before
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time) ([]*domain.ScrapeSession, error) {
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions s
		WHERE s.state IN `+activeStates+` AND s.updated_at < $1
		ORDER BY s.updated_at ASC`,
		before,
	)
}

// ActiveByStrategy counts active sessions for a strategy
func (r *SessionRepository) ActiveByStrategy(ctx context.Context, strategyID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE strategy_id = $1 AND state IN `+activeStates, strategyID,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count active sessions")
}

// ListUnreconciled returns completed sessions whose zone is not yet marked complete
func (r *SessionRepository) ListUnreconciled(ctx context.Context, limit int) ([]*domain.ScrapeSession, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `
		SELECT `+sessionColumns+` FROM sessions s
		JOIN zones z ON z.id = s.zone_id
		WHERE s.state = $1 AND z.completed = FALSE
		LIMIT $2`,
		domain.SessionStateCompleted, limit,
	)
}

func (r *SessionRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrap(err, "postgres: update session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "postgres: rows affected")
	}
	return n > 0, nil
}

func (r *SessionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.ScrapeSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query sessions")
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
	var state string
	var failureReason sql.NullString
	var warnings pq.StringArray
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.StrategyID, &s.ZoneID, &s.Priority, &state,
		&s.Counts.Total, &s.Counts.Scraped, &s.Counts.Validated, &s.Counts.Discovered,
		&failureReason, &warnings, &s.CreatedAt, &s.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	s.State = domain.SessionState(state)
	if failureReason.Valid {
		s.FailureReason = &failureReason.String
	}
	s.Warnings = []string(warnings)
	if startedAt.Valid {
		s.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		s.FinishedAt = &finishedAt.Time
	}
	return s, nil
}
