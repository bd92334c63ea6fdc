package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a progress event
type EventType string

const (
	EventScrapingStarted    EventType = "scraping_started"
	EventBusinessScraped    EventType = "business_scraped"
	EventValidationProgress EventType = "validation_progress"
	EventScrapeComplete     EventType = "scrape_complete"
	EventScrapeFailed       EventType = "scrape_failed"
	EventSessionWarning     EventType = "session_warning"
)

// IsTerminal returns true for events that end a session stream
func (t EventType) IsTerminal() bool {
	return t == EventScrapeComplete || t == EventScrapeFailed
}

// ProgressEvent is an ephemeral message carried on the progress bus
type ProgressEvent struct {
	SessionID uuid.UUID      `json:"session_id"`
	Type      EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// NewEvent creates a progress event stamped with the current time
func NewEvent(sessionID uuid.UUID, typ EventType, payload map[string]any) ProgressEvent {
	return ProgressEvent{
		SessionID: sessionID,
		Type:      typ,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
}

// TerminalEventFor returns the terminal event type matching a finished session
func TerminalEventFor(state SessionState) EventType {
	if state == SessionStateFailed {
		return EventScrapeFailed
	}
	return EventScrapeComplete
}
