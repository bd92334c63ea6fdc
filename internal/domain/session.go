package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState represents the state of a scrape session
type SessionState string

const (
	SessionStateQueued     SessionState = "queued"
	SessionStateScraping   SessionState = "scraping"
	SessionStateValidating SessionState = "validating"
	SessionStateCompleted  SessionState = "completed"
	SessionStateFailed     SessionState = "failed"
)

// IsTerminal returns true if the session can no longer change
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}

// IsActive returns true if the session still holds its zone
func (s SessionState) IsActive() bool {
	return s == SessionStateQueued || s == SessionStateScraping || s == SessionStateValidating
}

// ActiveSessionStates lists the states that keep a zone in flight
var ActiveSessionStates = []SessionState{SessionStateQueued, SessionStateScraping, SessionStateValidating}

// Priority bounds for dispatched work
const (
	PriorityMin        = 0
	PriorityMax        = 10
	PriorityUser       = 8
	PriorityBackground = 2
)

// ClampPriority keeps p within [PriorityMin, PriorityMax]
func ClampPriority(p int) int {
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}

// ScrapeSession is one execution of one zone
type ScrapeSession struct {
	ID         uuid.UUID    `json:"id"`
	StrategyID uuid.UUID    `json:"strategy_id"`
	ZoneID     uuid.UUID    `json:"zone_id"`
	Priority   int          `json:"priority"`
	State      SessionState `json:"state"`

	Counts SessionCounts `json:"counts"`

	FailureReason *string  `json:"failure_reason,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SessionCounts tracks session progress. They are the durable mirror of bus events.
type SessionCounts struct {
	Total      int `json:"total"`
	Scraped    int `json:"scraped"`
	Validated  int `json:"validated"`
	Discovered int `json:"discovered"`
}

// Percentage returns validation progress in percent
func (c SessionCounts) Percentage() float64 {
	if c.Scraped == 0 {
		return 0
	}
	return float64(c.Validated) / float64(c.Scraped) * 100
}

// ZoneCounts converts session counts to the shape reported on zone completion
func (c SessionCounts) ZoneCounts() ZoneCounts {
	return ZoneCounts{
		Total:      c.Total,
		Scraped:    c.Scraped,
		Validated:  c.Validated,
		Discovered: c.Discovered,
	}
}

// NewSession creates a queued session for a zone
func NewSession(strategyID, zoneID uuid.UUID, priority int) *ScrapeSession {
	now := time.Now().UTC()
	return &ScrapeSession{
		ID:         uuid.New(),
		StrategyID: strategyID,
		ZoneID:     zoneID,
		Priority:   ClampPriority(priority),
		State:      SessionStateQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// SessionStatus is the poll-friendly view returned by get_session_status
type SessionStatus struct {
	*ScrapeSession
	Percentage float64 `json:"percentage"`
	ZoneCode   string  `json:"zone_code,omitempty"`
	ZoneName   string  `json:"zone_name,omitempty"`
}

// SessionListParams are parameters for listing sessions
type SessionListParams struct {
	StrategyID *uuid.UUID
	State      *SessionState
	Limit      int
	Offset     int
}
