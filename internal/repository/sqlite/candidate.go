package sqlite

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

// CandidateRepository implements domain.CandidateRepository for SQLite
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
	evidence, err := json.Marshal(nonNilEvidence(c.Evidence))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal evidence")
	}

	var raw sql.NullString
	if len(c.RawPayload) > 0 {
		raw = sql.NullString{String: string(c.RawPayload), Valid: true}
	}

	var confidence sql.NullFloat64
	if c.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *c.Confidence, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (region, category, external_id) DO NOTHING`,
		c.ID.String(), c.StrategyID.String(), c.ZoneID.String(), c.SessionID.String(), c.Region, c.Category,
		c.ExternalID, c.Name, c.Phone, c.Address, c.Locality, c.Lat, c.Lon,
		c.SourceType, c.Rating, c.ReviewCount,
		nullString(c.WebsiteURL), c.WebsiteSource, c.Status, confidence, boolInt(c.LowConfidence),
		string(evidence), c.Attempts, nullString(c.UnresolvedReason), raw,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert candidate")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// GetByID retrieves a candidate by ID
func (r *CandidateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error) {
	c, err := scanCandidate(r.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM candidates WHERE id = ?`, id.String()))
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
		conditions = append(conditions, "strategy_id = ?")
		args = append(args, params.StrategyID.String())
	}
	if params.SessionID != nil {
		conditions = append(conditions, "session_id = ?")
		args = append(args, params.SessionID.String())
	}
	if params.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *params.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates "+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count candidates")
	}

	limit := 20
	if params.Limit > 0 {
		limit = params.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM candidates %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, candidateColumns, where)
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, params.Offset)...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list candidates")
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
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	var status, evidenceJSON, sessionID string
	err = tx.QueryRowContext(ctx,
		`SELECT status, evidence, session_id FROM candidates WHERE id = ?`, id.String(),
	).Scan(&status, &evidenceJSON, &sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrCandidateNotFound
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: read candidate")
	}
	if domain.VerificationStatus(status) != u.From {
		return false, nil
	}

	evidence, err := appendEvidence(evidenceJSON, u.Append)
	if err != nil {
		return false, err
	}

	now := nowString()
	set := []string{"status = ?", "evidence = ?", "updated_at = ?"}
	args := []any{u.To, evidence, now}

	if u.WebsiteURL != nil {
		set = append(set, "website_url = ?", "website_source = ?")
		args = append(args, *u.WebsiteURL, u.WebsiteSource)
	}
	if u.Confidence != nil {
		set = append(set, "confidence = ?")
		args = append(args, *u.Confidence)
	}
	if u.LowConfidence {
		set = append(set, "low_confidence = 1")
	}
	if u.Reason != nil {
		set = append(set, "unresolved_reason = ?")
		args = append(args, *u.Reason)
	}
	if !u.To.IsTerminal() && u.To != u.From {
		// attempts count per tier
		set = append(set, "attempts = 0")
	}

	args = append(args, id.String(), u.From)
	res, err := tx.ExecContext(ctx,
		`UPDATE candidates SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: update candidate status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if u.To.IsTerminal() {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET validated = validated + 1, discovered = discovered + ?, updated_at = ?
			WHERE id = ? AND state NOT IN ('completed', 'failed')`,
			boolInt(u.To == domain.StatusConfirmedWebsite), now, sessionID,
		)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: bump session counters")
		}
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit candidate status")
	}
	return true, nil
}

// AppendEvidence appends evidence without changing status
func (r *CandidateRepository) AppendEvidence(ctx context.Context, id uuid.UUID, expected domain.VerificationStatus, results ...domain.TierResult) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	var evidenceJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT evidence FROM candidates WHERE id = ? AND status = ?`, id.String(), expected,
	).Scan(&evidenceJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: read evidence")
	}

	evidence, err := appendEvidence(evidenceJSON, results)
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE candidates SET evidence = ?, updated_at = ? WHERE id = ?`,
		evidence, nowString(), id.String(),
	); err != nil {
		return false, eris.Wrap(err, "sqlite: append evidence")
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit evidence")
	}
	return true, nil
}

// IncrementAttempts bumps the retry counter and returns the new value
func (r *CandidateRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE candidates SET attempts = attempts + 1, updated_at = ? WHERE id = ? RETURNING attempts`,
		nowString(), id.String(),
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrCandidateNotFound
	}
	return attempts, eris.Wrap(err, "sqlite: increment attempts")
}

// StreamByStrategy streams candidates of a strategy
func (r *CandidateRepository) StreamByStrategy(ctx context.Context, strategyID uuid.UUID, fn func(c *domain.Candidate) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM candidates WHERE strategy_id = ? ORDER BY created_at, id`,
		strategyID.String(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: stream candidates")
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

func appendEvidence(current string, results []domain.TierResult) (string, error) {
	var evidence []domain.TierResult
	if current != "" {
		if err := json.Unmarshal([]byte(current), &evidence); err != nil {
			return "", eris.Wrap(err, "sqlite: unmarshal evidence")
		}
	}
	evidence = append(evidence, results...)

	b, err := json.Marshal(nonNilEvidence(evidence))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal evidence")
	}
	return string(b), nil
}

func nonNilEvidence(e []domain.TierResult) []domain.TierResult {
	if e == nil {
		return []domain.TierResult{}
	}
	return e
}

func scanCandidate(row scanner) (*domain.Candidate, error) {
	c := &domain.Candidate{}
	var id, strategyID, zoneID, sessionID, websiteSource, status, evidence, createdAt, updatedAt string
	var websiteURL, unresolvedReason, raw sql.NullString
	var confidence sql.NullFloat64
	var lowConfidence int

	err := row.Scan(
		&id, &strategyID, &zoneID, &sessionID, &c.Region, &c.Category,
		&c.ExternalID, &c.Name, &c.Phone, &c.Address, &c.Locality, &c.Lat, &c.Lon,
		&c.SourceType, &c.Rating, &c.ReviewCount,
		&websiteURL, &websiteSource, &status, &confidence, &lowConfidence,
		&evidence, &c.Attempts, &unresolvedReason, &raw, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse candidate id")
	}
	c.StrategyID, _ = uuid.Parse(strategyID)
	c.ZoneID, _ = uuid.Parse(zoneID)
	c.SessionID, _ = uuid.Parse(sessionID)
	c.WebsiteURL = stringPtr(websiteURL)
	c.WebsiteSource = domain.WebsiteSource(websiteSource)
	c.Status = domain.VerificationStatus(status)
	if confidence.Valid {
		c.Confidence = &confidence.Float64
	}
	c.LowConfidence = lowConfidence == 1
	if err := json.Unmarshal([]byte(evidence), &c.Evidence); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
	}
	c.UnresolvedReason = stringPtr(unresolvedReason)
	if raw.Valid {
		c.RawPayload = json.RawMessage(raw.String)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)

	return c, nil
}
