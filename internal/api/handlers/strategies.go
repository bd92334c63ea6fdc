package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/tlmt"
)

// CoverageServiceInterface defines the strategy operations used by the API
type CoverageServiceInterface interface {
	CreateOrGet(ctx context.Context, region, category string, opts coverage.Options) (*domain.CoverageStrategy, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.CoverageStrategy, error)
	List(ctx context.Context, params domain.StrategyListParams) ([]*domain.CoverageStrategy, int, error)
	Zones(ctx context.Context, id uuid.UUID) ([]*domain.Zone, error)
	GetNextZone(ctx context.Context, strategyID uuid.UUID) (*domain.Zone, error)
}

// DispatcherInterface starts the acquisition of a strategy's next zone
type DispatcherInterface interface {
	Dispatch(ctx context.Context, strategyID uuid.UUID, priority int) (*domain.ScrapeSession, *domain.Zone, error)
}

// StrategyHandler handles coverage strategy requests
type StrategyHandler struct {
	coverage  CoverageServiceInterface
	dispatch  DispatcherInterface
	telemetry tlmt.Telemetry
	log       *zap.Logger
}

// NewStrategyHandler creates a new StrategyHandler. telemetry may be nil.
func NewStrategyHandler(c CoverageServiceInterface, d DispatcherInterface, telemetry tlmt.Telemetry) *StrategyHandler {
	return &StrategyHandler{
		coverage:  c,
		dispatch:  d,
		telemetry: telemetry,
		log:       zap.L().With(zap.String("component", "api")),
	}
}

// StrategyView is a strategy with its completion percentage
type StrategyView struct {
	*domain.CoverageStrategy
	Percentage float64 `json:"percentage"`
}

func strategyView(s *domain.CoverageStrategy) StrategyView {
	return StrategyView{CoverageStrategy: s, Percentage: s.Percentage()}
}

// Create handles POST /api/v2/strategies
func (h *StrategyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.StartCoverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		RenderDomainError(w, err, "Invalid request")
		return
	}

	strategy, created, err := h.coverage.CreateOrGet(r.Context(), req.Region, req.Category, coverage.Options{
		Regenerate: req.Regenerate,
		RadiusM:    req.RadiusM,
	})
	if err != nil {
		RenderDomainError(w, err, "Failed to create strategy")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if h.telemetry != nil {
			_ = h.telemetry.Send(r.Context(), tlmt.NewEvent(tlmt.EventStrategyCreated, map[string]any{
				"zones":       strategy.ZonesTotal,
				"regenerated": req.Regenerate,
			}))
		}
	}

	RenderJSON(w, status, domain.StartCoverageResponse{
		StrategyID: strategy.ID,
		ZoneCount:  strategy.ZonesTotal,
		Created:    created,
	})
}

// List handles GET /api/v2/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)

	params := domain.StrategyListParams{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		s := domain.StrategyStatus(status)
		params.Status = &s
	}

	strategies, total, err := h.coverage.List(r.Context(), params)
	if err != nil {
		RenderDomainError(w, err, "Failed to list strategies")
		return
	}

	views := make([]StrategyView, 0, len(strategies))
	for _, s := range strategies {
		views = append(views, strategyView(s))
	}
	RenderJSON(w, http.StatusOK, NewPaginatedResponse(views, total, page, perPage))
}

// Get handles GET /api/v2/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid strategy ID")
		return
	}

	strategy, err := h.coverage.Get(r.Context(), id)
	if err != nil {
		RenderDomainError(w, err, "Failed to get strategy")
		return
	}
	RenderJSON(w, http.StatusOK, strategyView(strategy))
}

// Zones handles GET /api/v2/strategies/{id}/zones
func (h *StrategyHandler) Zones(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid strategy ID")
		return
	}

	zones, err := h.coverage.Zones(r.Context(), id)
	if err != nil {
		RenderDomainError(w, err, "Failed to list zones")
		return
	}
	RenderJSON(w, http.StatusOK, map[string]any{"zones": zones})
}

// PeekNext handles GET /api/v2/strategies/{id}/next. The zone is not reserved.
func (h *StrategyHandler) PeekNext(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid strategy ID")
		return
	}

	zone, err := h.coverage.GetNextZone(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNoZonesRemaining) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		RenderDomainError(w, err, "Failed to get next zone")
		return
	}
	RenderJSON(w, http.StatusOK, zone)
}

// Next handles POST /api/v2/strategies/{id}/next. It returns as soon as the
// zone's acquisition is queued.
func (h *StrategyHandler) Next(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid strategy ID")
		return
	}

	session, zone, err := h.dispatch.Dispatch(r.Context(), id, domain.PriorityUser)
	if err != nil {
		RenderDomainError(w, err, "Failed to dispatch zone")
		return
	}

	h.log.Debug("zone dispatched via api",
		zap.String("strategy_id", id.String()),
		zap.String("session_id", session.ID.String()),
	)

	RenderJSON(w, http.StatusAccepted, map[string]any{
		"session_id": session.ID,
		"zone_id":    zone.ID,
		"zone_code":  zone.Code,
		"zone_name":  zone.Name,
	})
}
