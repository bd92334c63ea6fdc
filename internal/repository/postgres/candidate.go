package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
)

// CandidateRepository implements domain.CandidateRepository for PostgreSQL
type CandidateRepository struct {
	db *sql.DB
}

// NewCandidateRepository creates a new CandidateRepository
func NewCandidateRepository(db *sql.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

const candidateColumns = `
	id, strategy_id, zone_id, session_id, region, category,
	external_id, name, phone, address, locality, lat, lon,
	source_category, rating, review_count,
	website_url, website_source, status, confidence, low_confidence,
	evidence, attempts, unresolved_reason, raw_payload, created_at, updated_at`

// Insert inserts a candidate. Returns false if the external id is already
// known for the region and category.
func (r *CandidateRepository) Insert(ctx context.Context, c *domain.Candidate) (bool, error) {
	evidence, err := marshalEvidence(c.Evidence)
	if err != nil {
		return false, err
	}

	var raw []byte
	if len(c.RawPayload) > 0 {
		raw = c.RawPayload
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22::jsonb, $23, $24, $25::jsonb, $26, $27)
		ON CONFLICT (region, category, external_id) DO NOTHING`,
		c.ID, c.StrategyID, c.ZoneID, c.SessionID, c.Region, c.Category,
		c.ExternalID, c.Name, c.Phone, c.Address, c.Locality, c.Lat, c.Lon,
		c.SourceType, c.Rating, c.ReviewCount,
		c.WebsiteURL, c.WebsiteSource, c.Status, c.Confidence, c.LowConfidence,
		evidence, c.Attempts, c.UnresolvedReason, raw, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert candidate")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "postgres: rows affected")
	}
	return n > 0, nil
}

// GetByID retrieves a candidate by ID
func (r *CandidateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error) {
	c, err := scanCandidate(r.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// List retrieves candidates with optional filtering
func (r *CandidateRepository) List(ctx context.Context, params domain.CandidateListParams) ([]*domain.Candidate, int, error) {
	var conditions []string
	var args []any

	if params.StrategyID != nil {
		args = append(args, *params.StrategyID)
		conditions = append(conditions, fmt.Sprintf("strategy_id = $%d", len(args)))
	}
	if params.SessionID != nil {
		args = append(args, *params.SessionID)
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if params.Status != nil {
		args = append(args, *params.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count candidates")
	}

	limit := 20
	if params.Limit > 0 {
		limit = params.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM candidates %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		candidateColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []*domain.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// UpdateStatus applies a guarded status write
func (r *CandidateRepository) UpdateStatus(ctx context.Context, id uuid.UUID, u domain.StatusUpdate) (bool, error) {
	appended, err := marshalEvidence(u.Append)
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback()

	set := []string{"status = $1", "evidence = evidence || $2::jsonb", "updated_at = NOW()"}
	args := []any{u.To, appended}

	if u.WebsiteURL != nil {
		args = append(args, *u.WebsiteURL, u.WebsiteSource)
		set = append(set, fmt.Sprintf("website_url = $%d", len(args)-1), fmt.Sprintf("website_source = $%d", len(args)))
	}
	if u.Confidence != nil {
		args = append(args, *u.Confidence)
		set = append(set, fmt.Sprintf("confidence = $%d", len(args)))
	}
	if u.LowConfidence {
		set = append(set, "low_confidence = TRUE")
	}
	if u.Reason != nil {
		args = append(args, *u.Reason)
		set = append(set, fmt.Sprintf("unresolved_reason = $%d", len(args)))
	}
	if !u.To.IsTerminal() && u.To != u.From {
		// attempts count per tier
		set = append(set, "attempts = 0")
	}

	args = append(args, id, u.From)
	query := fmt.Sprintf(`UPDATE candidates SET %s WHERE id = $%d AND status = $%d RETURNING session_id`,
		strings.Join(set, ", "), len(args)-1, len(args))

	var sessionID uuid.UUID
	err = tx.QueryRowContext(ctx, query, args...).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM candidates WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, eris.Wrap(err, "postgres: check candidate")
		}
		if !exists {
			return false, domain.ErrCandidateNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: update candidate status")
	}

	if u.To.IsTerminal() {
		discovered := 0
		if u.To == domain.StatusConfirmedWebsite {
			discovered = 1
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET validated = validated + 1, discovered = discovered + $1, updated_at = NOW()
			WHERE id = $2 AND state NOT IN ('completed', 'failed')`,
			discovered, sessionID,
		)
		if err != nil {
			return false, eris.Wrap(err, "postgres: bump session counters")
		}
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "postgres: commit candidate status")
	}
	return true, nil
}

// AppendEvidence appends evidence without changing status
func (r *CandidateRepository) AppendEvidence(ctx context.Context, id uuid.UUID, expected domain.VerificationStatus, results ...domain.TierResult) (bool, error) {
	appended, err := marshalEvidence(results)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE candidates SET evidence = evidence || $1::jsonb, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		appended, id, expected,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: append evidence")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "postgres: rows affected")
	}
	return n > 0, nil
}

// IncrementAttempts bumps the retry counter and returns the new value
func (r *CandidateRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE candidates SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1 RETURNING attempts`, id,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrCandidateNotFound
	}
	return attempts, eris.Wrap(err, "postgres: increment attempts")
}

// StreamByStrategy streams candidates of a strategy
func (r *CandidateRepository) StreamByStrategy(ctx context.Context, strategyID uuid.UUID, fn func(c *domain.Candidate) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE strategy_id = $1 ORDER BY created_at, id`, strategyID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: stream candidates")
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

func marshalEvidence(e []domain.TierResult) ([]byte, error) {
	if e == nil {
		e = []domain.TierResult{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal evidence")
	}
	return b, nil
}

func scanCandidate(row scanner) (*domain.Candidate, error) {
	c := &domain.Candidate{}
	var websiteSource, status string
	var websiteURL, unresolvedReason sql.NullString
	var confidence sql.NullFloat64
	var evidence, raw []byte

	err := row.Scan(
		&c.ID, &c.StrategyID, &c.ZoneID, &c.SessionID, &c.Region, &c.Category,
		&c.ExternalID, &c.Name, &c.Phone, &c.Address, &c.Locality, &c.Lat, &c.Lon,
		&c.SourceType, &c.Rating, &c.ReviewCount,
		&websiteURL, &websiteSource, &status, &confidence, &c.LowConfidence,
		&evidence, &c.Attempts, &unresolvedReason, &raw, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if websiteURL.Valid {
		c.WebsiteURL = &websiteURL.String
	}
	c.WebsiteSource = domain.WebsiteSource(websiteSource)
	c.Status = domain.VerificationStatus(status)
	if confidence.Valid {
		c.Confidence = &confidence.Float64
	}
	if err := json.Unmarshal(evidence, &c.Evidence); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal evidence")
	}
	if unresolvedReason.Valid {
		c.UnresolvedReason = &unresolvedReason.String
	}
	if len(raw) > 0 {
		c.RawPayload = json.RawMessage(raw)
	}
	return c, nil
}
