package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// StrategyRepository implements domain.StrategyRepository for SQLite
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
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	now := nowString()

	// the partial unique index only admits one non-superseded row per pair,
	// so the old strategy has to step aside before the insert
	if supersede != nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE strategies SET status = ?, superseded_by = ?, updated_at = ?
			WHERE id = ? AND status <> ?`,
			domain.StrategyStatusSuperseded, s.ID.String(), now,
			supersede.String(), domain.StrategyStatusSuperseded,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: supersede strategy")
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO strategies (`+strategyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		s.ID.String(), s.Region, s.Category, s.Status, s.ZonesTotal, s.ZonesCompleted,
		s.BusinessesFound, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert strategy")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO zones (`+zoneColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare zone insert")
	}
	defer stmt.Close()

	for _, z := range zones {
		_, err := stmt.ExecContext(ctx,
			z.ID.String(), s.ID.String(), z.Code, z.Name, z.CenterLat, z.CenterLon, z.RadiusMeters,
			z.PriorityTier, z.EstimatedDensity, z.Position, formatTime(z.CreatedAt),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert zone %s", z.Code)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit strategy")
}

// GetByID retrieves a strategy by ID
func (r *StrategyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CoverageStrategy, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id.String())
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetCurrent retrieves the non-superseded strategy for a region/category pair
func (r *StrategyRepository) GetCurrent(ctx context.Context, region, category string) (*domain.CoverageStrategy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+strategyColumns+` FROM strategies
		WHERE region = ? AND category = ? AND status <> ?
		ORDER BY created_at DESC LIMIT 1`,
		region, category, domain.StrategyStatusSuperseded,
	)
	s, err := scanStrategy(row)
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
		where = "WHERE status = ?"
		args = append(args, *params.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM strategies "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count strategies")
	}

	limit := 20
	if params.Limit > 0 {
		limit = params.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM strategies %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, strategyColumns, where)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list strategies")
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
		`SELECT `+zoneColumns+` FROM zones WHERE strategy_id = ? ORDER BY `+zoneOrder,
		strategyID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list zones")
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
	row := r.db.QueryRowContext(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = ?`, id.String())
	z, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return z, err
}

const nextZoneQuery = `
	SELECT ` + zoneColumns + ` FROM zones z
	WHERE z.strategy_id = ? AND z.completed = 0
	AND NOT EXISTS (
		SELECT 1 FROM sessions s
		WHERE s.zone_id = z.id AND s.state IN ('queued', 'scraping', 'validating')
	)
	ORDER BY ` + zoneOrder + `
	LIMIT 1`

// NextZone returns the highest-priority zone without a completed or active session
func (r *StrategyRepository) NextZone(ctx context.Context, strategyID uuid.UUID) (*domain.Zone, error) {
	z, err := scanZone(r.db.QueryRowContext(ctx, nextZoneQuery, strategyID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return z, err
}

// ClaimNextZone selects the next zone and inserts the session in one transaction
func (r *StrategyRepository) ClaimNextZone(ctx context.Context, strategyID uuid.UUID, session *domain.ScrapeSession) (*domain.Zone, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM strategies WHERE id = ?`, strategyID.String()).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStrategyNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read strategy status")
	}
	if !domain.StrategyStatus(status).CanDispatch() {
		return nil, nil
	}

	z, err := scanZone(tx.QueryRowContext(ctx, nextZoneQuery, strategyID.String()))
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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID.String(), strategyID.String(), z.ID.String(), session.Priority, session.State,
		formatTime(session.CreatedAt), formatTime(session.UpdatedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert session")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
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
		WHERE st.status = ?
		AND NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.strategy_id = st.id AND s.state IN ('queued', 'scraping', 'validating')
		)
		ORDER BY st.updated_at ASC
		LIMIT ?`,
		domain.StrategyStatusActive, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dispatchable")
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
		return false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	now := nowString()

	res, err := tx.ExecContext(ctx,
		`UPDATE zones SET completed = 1, completed_at = ? WHERE id = ? AND completed = 0`,
		now, zoneID.String(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: complete zone")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	var strategyID string
	if err := tx.QueryRowContext(ctx, `SELECT strategy_id FROM zones WHERE id = ?`, zoneID.String()).Scan(&strategyID); err != nil {
		return false, eris.Wrap(err, "sqlite: zone strategy")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE strategies SET
			zones_completed = zones_completed + 1,
			businesses_found = businesses_found + ?,
			updated_at = ?
		WHERE id = ?`,
		counts.Scraped, now, strategyID,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: bump strategy counters")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE strategies SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND zones_completed >= zones_total`,
		domain.StrategyStatusExhausted, now, strategyID, domain.StrategyStatusActive,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: exhaust strategy")
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit zone completion")
	}
	return true, nil
}

func scanStrategy(row scanner) (*domain.CoverageStrategy, error) {
	s := &domain.CoverageStrategy{}
	var id, status, createdAt, updatedAt string
	var supersededBy sql.NullString

	err := row.Scan(
		&id, &s.Region, &s.Category, &status, &s.ZonesTotal, &s.ZonesCompleted,
		&s.BusinessesFound, &supersededBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse strategy id")
	}
	s.Status = domain.StrategyStatus(status)
	if supersededBy.Valid {
		if sid, err := uuid.Parse(supersededBy.String); err == nil {
			s.SupersededBy = &sid
		}
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)

	return s, nil
}

func scanZone(row scanner) (*domain.Zone, error) {
	z := &domain.Zone{}
	var id, strategyID, createdAt string
	var completed int
	var completedAt sql.NullString

	err := row.Scan(
		&id, &strategyID, &z.Code, &z.Name, &z.CenterLat, &z.CenterLon, &z.RadiusMeters,
		&z.PriorityTier, &z.EstimatedDensity, &z.Position, &completed, &completedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	z.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse zone id")
	}
	z.StrategyID, _ = uuid.Parse(strategyID)
	z.Completed = completed == 1
	z.CompletedAt = parseNullTime(completedAt)
	z.CreatedAt = parseTime(createdAt)

	return z, nil
}
