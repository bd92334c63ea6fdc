package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// StrategyRepository implements domain.StrategyRepository for PostgreSQL
type StrategyRepository struct {
	db *sql.DB
}

// NewStrategyRepository creates a new StrategyRepository
func NewStrategyRepository(db *sql.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

const strategyColumns = `
	id, region, category, status, zones_total, zones_completed,
	businesses_found, superseded_by, created_at, updated_at`

const zoneColumns = `
	id, strategy_id, code, name, center_lat, center_lon, radius_m,
	priority_tier, estimated_density, position, completed, completed_at, created_at`

const zoneOrder = `priority_tier DESC, estimated_density DESC, position ASC`

// CreateWithZones inserts a strategy and its zones atomically
func (r *StrategyRepository) CreateWithZones(ctx context.Context, s *domain.CoverageStrategy, zones []*domain.Zone, supersede *uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback()

	if supersede != nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE strategies SET status = $1, superseded_by = $2, updated_at = NOW()
			WHERE id = $3 AND status <> $1`,
			domain.StrategyStatusSuperseded, s.ID, *supersede,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: supersede strategy")
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO strategies (`+strategyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9)`,
		s.ID, s.Region, s.Category, s.Status, s.ZonesTotal, s.ZonesCompleted,
		s.BusinessesFound, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert strategy")
	}

	for _, z := range zones {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO zones (`+zoneColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NULL, $11)`,
			z.ID, s.ID, z.Code, z.Name, z.CenterLat, z.CenterLon, z.RadiusMeters,
			z.PriorityTier, z.EstimatedDensity, z.Position, z.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert zone %s", z.Code)
		}
	}

	return eris.Wrap(tx.Commit(), "postgres: commit strategy")
}

// GetByID retrieves a strategy by ID
func (r *StrategyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CoverageStrategy, error) {
	s, err := scanStrategy(r.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetCurrent retrieves the non-superseded strategy for a region/category pair
func (r *StrategyRepository) GetCurrent(ctx context.Context, region, category string) (*domain.CoverageStrategy, error) {
	s, err := scanStrategy(r.db.QueryRowContext(ctx, `
		SELECT `+strategyColumns+` FROM strategies
		WHERE region = $1 AND category = $2 AND status <> $3
		ORDER BY created_at DESC LIMIT 1`,
		region, category, domain.StrategyStatusSuperseded,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// List retrieves strategies with optional filtering
func (r *StrategyRepository) List(ctx context.Context, params domain.StrategyListParams) ([]*domain.CoverageStrategy, int, error) {
	where := ""
	var args []any
	if params.Status != nil {
		where = "WHERE status = $1"
		args = append(args, *params.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM strategies "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count strategies")
	}

	limit := 20
	if params.Limit > 0 {
		limit = params.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM strategies %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strategyColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list strategies")
	}
	defer rows.Close()

	var out []*domain.CoverageStrategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// ListZones returns a strategy's zones in dispatch order
func (r *StrategyRepository) ListZones(ctx context.Context, strategyID uuid.UUID) ([]*domain.Zone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+zoneColumns+` FROM zones WHERE strategy_id = $1 ORDER BY `+zoneOrder, strategyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list zones")
	}
	defer rows.Close()

	var zones []*domain.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// GetZone retrieves a zone by ID
func (r *StrategyRepository) GetZone(ctx context.Context, id uuid.UUID) (*domain.Zone, error) {
	z, err := scanZone(r.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return z, err
}

const nextZoneQuery = `
	SELECT ` + zoneColumns + ` FROM zones z
	WHERE z.strategy_id = $1 AND z.completed = FALSE
	AND NOT EXISTS (
		SELECT 1 FROM sessions s
		WHERE s.zone_id = z.id AND s.state IN ('queued', 'scraping', 'validating')
	)
	ORDER BY ` + zoneOrder + `
	LIMIT 1`

// NextZone returns the highest-priority zone without a completed or active session
func (r *StrategyRepository) NextZone(ctx context.Context, strategyID uuid.UUID) (*domain.Zone, error) {
	z, err := scanZone(r.db.QueryRowContext(ctx, nextZoneQuery, strategyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return z, err
}

// ClaimNextZone selects the next zone and inserts the session in one
// transaction. Concurrent claimers skip rows already locked by each other; a
// claimer that loses the race on the active-session index gets ErrStaleWrite.
func (r *StrategyRepository) ClaimNextZone(ctx context.Context, strategyID uuid.UUID, session *domain.ScrapeSession) (*domain.Zone, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM strategies WHERE id = $1 FOR SHARE`, strategyID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStrategyNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read strategy status")
	}
	if !domain.StrategyStatus(status).CanDispatch() {
		return nil, nil
	}

	z, err := scanZone(tx.QueryRowContext(ctx, nextZoneQuery+` FOR UPDATE SKIP LOCKED`, strategyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session.StrategyID = strategyID
	session.ZoneID = z.ID

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, strategy_id, zone_id, priority, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, strategyID, z.ID, session.Priority, session.State, session.CreatedAt, session.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return nil, domain.ErrStaleWrite
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert session")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "postgres: commit claim")
	}
	return z, nil
}

// ListDispatchable returns active strategies with no in-flight session
func (r *StrategyRepository) ListDispatchable(ctx context.Context, limit int) ([]*domain.CoverageStrategy, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+strategyColumns+` FROM strategies st
		WHERE st.status = $1
		AND NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.strategy_id = st.id AND s.state IN ('queued', 'scraping', 'validating')
		)
		ORDER BY st.updated_at ASC
		LIMIT $2`,
		domain.StrategyStatusActive, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dispatchable")
	}
	defer rows.Close()

	var out []*domain.CoverageStrategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CompleteZone flips the zone's completion flag and increments strategy counters
func (r *StrategyRepository) CompleteZone(ctx context.Context, zoneID uuid.UUID, counts domain.ZoneCounts) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback()

	var strategyID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE zones SET completed = TRUE, completed_at = NOW()
		WHERE id = $1 AND completed = FALSE
		RETURNING strategy_id`, zoneID,
	).Scan(&strategyID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: complete zone")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE strategies SET
			zones_completed = zones_completed + 1,
			businesses_found = businesses_found + $1,
			status = CASE
				WHEN status = $2 AND zones_completed + 1 >= zones_total THEN $3
				ELSE status
			END,
			updated_at = NOW()
		WHERE id = $4`,
		counts.Scraped, domain.StrategyStatusActive, domain.StrategyStatusExhausted, strategyID,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: bump strategy counters")
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "postgres: commit zone completion")
	}
	return true, nil
}

func scanStrategy(row scanner) (*domain.CoverageStrategy, error) {
	s := &domain.CoverageStrategy{}
	var status string
	var supersededBy uuid.NullUUID

	err := row.Scan(
		&s.ID, &s.Region, &s.Category, &status, &s.ZonesTotal, &s.ZonesCompleted,
		&s.BusinessesFound, &supersededBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = domain.StrategyStatus(status)
	if supersededBy.Valid {
		s.SupersededBy = &supersededBy.UUID
	}
	return s, nil
}

func scanZone(row scanner) (*domain.Zone, error) {
	z := &domain.Zone{}
	var completedAt sql.NullTime

	err := row.Scan(
		&z.ID, &z.StrategyID, &z.Code, &z.Name, &z.CenterLat, &z.CenterLon, &z.RadiusMeters,
		&z.PriorityTier, &z.EstimatedDensity, &z.Position, &z.Completed, &completedAt, &z.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		z.CompletedAt = &completedAt.Time
	}
	return z, nil
}
