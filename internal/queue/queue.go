// Package queue carries orchestration jobs between the manager and the
// worker pools. Each pool drains its own four priority bands strictly in
// order, so user-requested work always runs ahead of background sweeps.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Task types
const (
	TypeZoneAcquire       = "zone:acquire"
	TypeCandidateProbe    = "candidate:probe"
	TypeCandidateDiscover = "candidate:discover"
	TypeCandidateConfirm  = "candidate:confirm"
)

// Pool names a group of workers that share one queue family.
type Pool string

const (
	PoolAcquisition  Pool = "acquisition"
	PoolDiscovery    Pool = "discovery"
	PoolConfirmation Pool = "confirmation"
)

// Pools lists every pool in dispatch order.
var Pools = []Pool{PoolAcquisition, PoolDiscovery, PoolConfirmation}

// Priority bands inside a pool
const (
	BandCritical = "critical"
	BandHigh     = "high"
	BandDefault  = "default"
	BandLow      = "low"
)

// Bands lists the priority bands from highest to lowest.
var Bands = []string{BandCritical, BandHigh, BandDefault, BandLow}

// MaxRetry is how many times a failed job is redelivered after its first
// attempt.
const MaxRetry = 3

// PoolOf returns the pool that executes the given task type.
func PoolOf(taskType string) Pool {
	switch taskType {
	case TypeZoneAcquire:
		return PoolAcquisition
	case TypeCandidateConfirm:
		return PoolConfirmation
	default:
		return PoolDiscovery
	}
}

// BandOf maps a numeric priority (0-10) to a band.
func BandOf(priority int) string {
	switch {
	case priority >= 9:
		return BandCritical
	case priority >= 6:
		return BandHigh
	case priority >= 3:
		return BandDefault
	default:
		return BandLow
	}
}

// SubQueue returns the concrete queue name for a pool and priority,
// e.g. "discovery:high".
func SubQueue(pool Pool, priority int) string {
	return string(pool) + ":" + BandOf(priority)
}

// Timeout returns how long one execution of a job in the pool may run.
func Timeout(pool Pool) time.Duration {
	switch pool {
	case PoolAcquisition:
		return 15 * time.Minute
	case PoolConfirmation:
		return 5 * time.Minute
	default:
		return 3 * time.Minute
	}
}

// Payload is the serialized body of a job.
type Payload struct {
	SessionID   uuid.UUID `json:"session_id"`
	StrategyID  uuid.UUID `json:"strategy_id,omitempty"`
	ZoneID      uuid.UUID `json:"zone_id,omitempty"`
	CandidateID uuid.UUID `json:"candidate_id,omitempty"`
	Priority    int       `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job is one unit of work for a pool.
type Job struct {
	// ID deduplicates enqueues: a second job with the same ID is dropped
	// while the first is still known to the backend.
	ID      string
	Type    string
	Payload Payload
}

// Pool returns the pool that runs the job.
func (j Job) Pool() Pool {
	return PoolOf(j.Type)
}

// Queue returns the sub-queue the job is placed on.
func (j Job) Queue() string {
	return SubQueue(j.Pool(), j.Payload.Priority)
}

// NewZoneJob builds the acquisition job for a scrape session.
func NewZoneJob(sessionID, strategyID, zoneID uuid.UUID, priority int) Job {
	return Job{
		ID:   TypeZoneAcquire + ":" + sessionID.String(),
		Type: TypeZoneAcquire,
		Payload: Payload{
			SessionID:  sessionID,
			StrategyID: strategyID,
			ZoneID:     zoneID,
			Priority:   priority,
			CreatedAt:  time.Now().UTC(),
		},
	}
}

// NewCandidateJob builds a verification job for one candidate.
func NewCandidateJob(taskType string, candidateID, sessionID uuid.UUID, priority int) Job {
	return Job{
		ID:   taskType + ":" + candidateID.String(),
		Type: taskType,
		Payload: Payload{
			SessionID:   sessionID,
			CandidateID: candidateID,
			Priority:    priority,
			CreatedAt:   time.Now().UTC(),
		},
	}
}

// Marshal encodes the payload.
func (p Payload) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal payload")
	}
	return data, nil
}

// UnmarshalPayload decodes a payload produced by Marshal.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, eris.Wrap(err, "queue: unmarshal payload")
	}
	return p, nil
}

// Handler processes one job. Returning an error schedules a redelivery
// unless the retries are used up or the error wraps ErrSkipRetry.
type Handler func(ctx context.Context, job Job) error

// ErrSkipRetry marks a handler failure that must not be redelivered.
var ErrSkipRetry = eris.New("skip retry")

// Dispatcher enqueues jobs.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
}

// Server executes registered handlers for a set of pools until ctx is done.
type Server interface {
	Handle(taskType string, h Handler)
	Run(ctx context.Context) error
}

// Stats is a snapshot of one sub-queue.
type Stats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}

// Inspector reports queue depth.
type Inspector interface {
	Stats(ctx context.Context) ([]Stats, error)
}

type attemptKey struct{}

type attempt struct {
	retry    int
	maxRetry int
}

func withAttempt(ctx context.Context, retry, maxRetry int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt{retry: retry, maxRetry: maxRetry})
}

// RetryCount returns how many times the running job has been redelivered
// and the maximum it may be.
func RetryCount(ctx context.Context) (retry, maxRetry int) {
	if a, ok := ctx.Value(attemptKey{}).(attempt); ok {
		return a.retry, a.maxRetry
	}
	return 0, 0
}

// IsLastAttempt reports whether a failure of the running job will not be
// redelivered.
func IsLastAttempt(ctx context.Context) bool {
	retry, maxRetry := RetryCount(ctx)
	return retry >= maxRetry
}
