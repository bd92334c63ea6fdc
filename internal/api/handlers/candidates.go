package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/service"
)

// CandidateServiceInterface defines the candidate reads used by the API
type CandidateServiceInterface interface {
	List(ctx context.Context, params domain.CandidateListParams) ([]*domain.Candidate, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Candidate, error)
	Export(ctx context.Context, w io.Writer, strategyID uuid.UUID, format string) error
}

// downloadTimeout bounds a single export
const downloadTimeout = 5 * time.Minute

// CandidateHandler handles lead triage and export requests
type CandidateHandler struct {
	candidates CandidateServiceInterface
	strategies CoverageServiceInterface
	log        *zap.Logger
}

// NewCandidateHandler creates a new CandidateHandler
func NewCandidateHandler(candidates CandidateServiceInterface, strategies CoverageServiceInterface) *CandidateHandler {
	return &CandidateHandler{
		candidates: candidates,
		strategies: strategies,
		log:        zap.L().With(zap.String("component", "api")),
	}
}

// List handles GET /api/v2/candidates?strategy_id=&session_id=&status=
func (h *CandidateHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	q := r.URL.Query()

	params := domain.CandidateListParams{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	for key, dst := range map[string]**uuid.UUID{
		"strategy_id": &params.StrategyID,
		"session_id":  &params.SessionID,
	} {
		s := q.Get(key)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			RenderError(w, http.StatusBadRequest, "Invalid "+key)
			return
		}
		*dst = &id
	}
	if s := q.Get("status"); s != "" {
		status := domain.VerificationStatus(s)
		if !status.IsValid() {
			RenderError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		params.Status = &status
	}

	candidates, total, err := h.candidates.List(r.Context(), params)
	if err != nil {
		RenderDomainError(w, err, "Failed to list candidates")
		return
	}
	RenderJSON(w, http.StatusOK, NewPaginatedResponse(candidates, total, page, perPage))
}

// Get handles GET /api/v2/candidates/{id}
func (h *CandidateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid candidate ID")
		return
	}

	c, err := h.candidates.GetByID(r.Context(), id)
	if err != nil {
		RenderDomainError(w, err, "Failed to get candidate")
		return
	}
	RenderJSON(w, http.StatusOK, c)
}

var contentTypes = map[string]string{
	service.FormatJSON: "application/json",
	service.FormatCSV:  "text/csv",
	service.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Download handles GET /api/v2/strategies/{id}/candidates/download?format=
func (h *CandidateHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid strategy ID")
		return
	}

	format, ok := service.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		RenderError(w, http.StatusBadRequest, "Invalid format. Use 'json', 'csv', or 'xlsx'")
		return
	}

	if _, err := h.strategies.Get(r.Context(), id); err != nil {
		RenderDomainError(w, err, "Failed to get strategy")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), downloadTimeout)
	defer cancel()

	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", "attachment; filename=candidates-"+id.String()+"."+format)

	if err := h.candidates.Export(ctx, w, id, format); err != nil {
		// headers are gone; all we can do is log
		h.log.Error("export failed",
			zap.String("strategy_id", id.String()),
			zap.String("format", format),
			zap.Error(err),
		)
	}
}
