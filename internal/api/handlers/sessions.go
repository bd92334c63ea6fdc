package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/progress"
)

// SessionServiceInterface defines the session reads used by the API
type SessionServiceInterface interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*domain.SessionStatus, error)
	Load(ctx context.Context, id uuid.UUID) (*domain.SessionStatus, error)
	List(ctx context.Context, params domain.SessionListParams) ([]*domain.ScrapeSession, int, error)
}

// DefaultStreamHeartbeat is how often an idle progress stream is kept alive
const DefaultStreamHeartbeat = 15 * time.Second

// SessionHandler serves session status and progress streams
type SessionHandler struct {
	sessions  SessionServiceInterface
	bus       progress.Bus
	heartbeat time.Duration
	log       *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionServiceInterface, bus progress.Bus, heartbeat time.Duration) *SessionHandler {
	if bus == nil {
		bus = progress.Noop{}
	}
	if heartbeat <= 0 {
		heartbeat = DefaultStreamHeartbeat
	}
	return &SessionHandler{
		sessions:  sessions,
		bus:       bus,
		heartbeat: heartbeat,
		log:       zap.L().With(zap.String("component", "api")),
	}
}

// Get handles GET /api/v2/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	status, err := h.sessions.GetStatus(r.Context(), id)
	if err != nil {
		RenderDomainError(w, err, "Failed to get session")
		return
	}
	RenderJSON(w, http.StatusOK, status)
}

// List handles GET /api/v2/sessions?strategy_id=&state=
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	q := r.URL.Query()

	params := domain.SessionListParams{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if s := q.Get("strategy_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			RenderError(w, http.StatusBadRequest, "Invalid strategy_id")
			return
		}
		params.StrategyID = &id
	}
	if s := q.Get("state"); s != "" {
		state := domain.SessionState(s)
		params.State = &state
	}

	sessions, total, err := h.sessions.List(r.Context(), params)
	if err != nil {
		RenderDomainError(w, err, "Failed to list sessions")
		return
	}
	RenderJSON(w, http.StatusOK, NewPaginatedResponse(sessions, total, page, perPage))
}

// Stream handles GET /api/v2/sessions/{id}/stream. The client gets a
// snapshot, then live events until the session ends. A finished session
// yields its snapshot and terminal event immediately.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}
	ctx := r.Context()

	// subscribe before reading the row so nothing falls between them
	sub, err := h.bus.Subscribe(ctx, id)
	if err != nil {
		RenderDomainError(w, err, "Failed to subscribe")
		return
	}
	defer sub.Close()

	status, err := h.sessions.Load(ctx, id)
	if err != nil {
		RenderDomainError(w, err, "Failed to get session")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		RenderError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := sse.WriteEvent("snapshot", status); err != nil {
		return
	}
	if status.State.IsTerminal() {
		_ = sse.WriteEvent(string(domain.TerminalEventFor(status.State)), terminalPayload(status))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				// bus went away; fall back to polling on the heartbeat
				events = nil
				continue
			}
			if err := sse.WriteEvent(string(ev.Type), ev); err != nil {
				return
			}
			if ev.Type.IsTerminal() {
				return
			}

		case <-ticker.C:
			if err := sse.WriteEvent("heartbeat", map[string]any{"at": time.Now().UTC()}); err != nil {
				return
			}
			fresh, err := h.sessions.Load(ctx, id)
			if err != nil {
				h.log.Debug("stream reload", zap.String("session_id", id.String()), zap.Error(err))
				continue
			}
			if fresh.State.IsTerminal() {
				_ = sse.WriteEvent("snapshot", fresh)
				_ = sse.WriteEvent(string(domain.TerminalEventFor(fresh.State)), terminalPayload(fresh))
				return
			}
		}
	}
}

// terminalPayload rebuilds the terminal event for a session read from the store
func terminalPayload(s *domain.SessionStatus) domain.ProgressEvent {
	payload := map[string]any{
		"total":      s.Counts.Total,
		"scraped":    s.Counts.Scraped,
		"validated":  s.Counts.Validated,
		"discovered": s.Counts.Discovered,
	}
	if s.FailureReason != nil {
		payload = map[string]any{"reason": *s.FailureReason}
	}
	ev := domain.NewEvent(s.ID, domain.TerminalEventFor(s.State), payload)
	if s.FinishedAt != nil {
		ev.At = *s.FinishedAt
	}
	return ev
}
