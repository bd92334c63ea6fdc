package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StrategyRepository persists strategies and their zones
type StrategyRepository interface {
	// CreateWithZones inserts a strategy and its zones atomically. If supersede
	// is set, that strategy is marked superseded in the same transaction.
	CreateWithZones(ctx context.Context, s *CoverageStrategy, zones []*Zone, supersede *uuid.UUID) error

	// GetByID retrieves a strategy by ID
	GetByID(ctx context.Context, id uuid.UUID) (*CoverageStrategy, error)

	// GetCurrent retrieves the non-superseded strategy for a region/category pair
	GetCurrent(ctx context.Context, region, category string) (*CoverageStrategy, error)

	// List retrieves strategies with optional filtering
	List(ctx context.Context, params StrategyListParams) ([]*CoverageStrategy, int, error)

	// ListZones returns a strategy's zones in dispatch order
	ListZones(ctx context.Context, strategyID uuid.UUID) ([]*Zone, error)

	// GetZone retrieves a zone by ID
	GetZone(ctx context.Context, id uuid.UUID) (*Zone, error)

	// NextZone returns the highest-priority zone without a completed or active session
	NextZone(ctx context.Context, strategyID uuid.UUID) (*Zone, error)

	// ClaimNextZone selects the next zone and inserts the session in one
	// transaction. Returns nil when no zone remains.
	ClaimNextZone(ctx context.Context, strategyID uuid.UUID, session *ScrapeSession) (*Zone, error)

	// ListDispatchable returns active strategies with no in-flight session
	ListDispatchable(ctx context.Context, limit int) ([]*CoverageStrategy, error)

	// CompleteZone flips the zone's completion flag and increments strategy
	// counters. Returns false if the zone was already complete.
	CompleteZone(ctx context.Context, zoneID uuid.UUID, counts ZoneCounts) (bool, error)
}

// SessionRepository persists scrape sessions
type SessionRepository interface {
	// GetByID retrieves a session by ID
	GetByID(ctx context.Context, id uuid.UUID) (*ScrapeSession, error)

	// List retrieves sessions with optional filtering
	List(ctx context.Context, params SessionListParams) ([]*ScrapeSession, int, error)

	// Transition moves a session from one state to another. Returns false if
	// the stored state no longer equals from.
	Transition(ctx context.Context, id uuid.UUID, from, to SessionState) (bool, error)

	// SetAcquired records provider totals and moves scraping -> validating
	SetAcquired(ctx context.Context, id uuid.UUID, total, scraped int) (bool, error)

	// Complete moves validating -> completed once every scraped candidate is
	// validated. Returns false if the session was not ready or already done.
	Complete(ctx context.Context, id uuid.UUID) (bool, error)

	// Fail marks a non-terminal session failed with a reason
	Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error)

	// AddWarning appends a warning to the session
	AddWarning(ctx context.Context, id uuid.UUID, warning string) error

	// ListStale returns active sessions whose updated_at is older than the cutoff
	ListStale(ctx context.Context, before time.Time) ([]*ScrapeSession, error)

	// ActiveByStrategy counts active sessions for a strategy
	ActiveByStrategy(ctx context.Context, strategyID uuid.UUID) (int, error)

	// ListUnreconciled returns completed sessions whose zone is not yet marked complete
	ListUnreconciled(ctx context.Context, limit int) ([]*ScrapeSession, error)
}

// CandidateRepository persists candidates and their evidence
type CandidateRepository interface {
	// Insert inserts a candidate. Returns false if (region, category,
	// external_id) already exists.
	Insert(ctx context.Context, c *Candidate) (bool, error)

	// GetByID retrieves a candidate by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Candidate, error)

	// List retrieves candidates with optional filtering
	List(ctx context.Context, params CandidateListParams) ([]*Candidate, int, error)

	// UpdateStatus applies a guarded status write. Returns false if the stored
	// status differs from u.From. A terminal write bumps the owning session's
	// validated (and discovered) counters in the same transaction.
	UpdateStatus(ctx context.Context, id uuid.UUID, u StatusUpdate) (bool, error)

	// AppendEvidence appends evidence without changing status
	AppendEvidence(ctx context.Context, id uuid.UUID, expected VerificationStatus, results ...TierResult) (bool, error)

	// IncrementAttempts bumps the retry counter and returns the new value
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)

	// StreamByStrategy streams candidates of a strategy (memory efficient)
	StreamByStrategy(ctx context.Context, strategyID uuid.UUID, fn func(c *Candidate) error) error
}

// WorkerRepository defines the interface for worker persistence
type WorkerRepository interface {
	// Upsert creates or updates a worker (for heartbeat)
	Upsert(ctx context.Context, worker *Worker) error

	// List retrieves all workers
	List(ctx context.Context) ([]*Worker, error)

	// MarkOffline marks workers offline if their heartbeat is older than timeout
	MarkOffline(ctx context.Context, timeout time.Duration) (int, error)

	// Delete deletes a worker by ID
	Delete(ctx context.Context, id string) error
}

// StatsRepository aggregates dashboard statistics
type StatsRepository interface {
	GetStats(ctx context.Context) (*Stats, error)
}
