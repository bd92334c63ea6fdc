package handlers

import (
	"context"
	"net/http"

	"github.com/sadewadee/leadscope/internal/domain"
)

// WorkerServiceInterface defines the worker service methods
type WorkerServiceInterface interface {
	List(ctx context.Context) ([]*domain.Worker, error)
	GetStats(ctx context.Context) (*domain.WorkerStats, error)
	Unregister(ctx context.Context, workerID string) error
}

// WorkerHandler handles worker registry requests
type WorkerHandler struct {
	workers WorkerServiceInterface
}

// NewWorkerHandler creates a new WorkerHandler
func NewWorkerHandler(workers WorkerServiceInterface) *WorkerHandler {
	return &WorkerHandler{
		workers: workers,
	}
}

// List handles GET /api/v2/workers
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	workers, err := h.workers.List(r.Context())
	if err != nil {
		RenderDomainError(w, err, "Failed to list workers")
		return
	}
	if workers == nil {
		workers = []*domain.Worker{}
	}
	RenderJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

// GetStats handles GET /api/v2/workers/stats
func (h *WorkerHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.workers.GetStats(r.Context())
	if err != nil {
		RenderDomainError(w, err, "Failed to get worker stats")
		return
	}
	RenderJSON(w, http.StatusOK, stats)
}

// Unregister handles DELETE /api/v2/workers/{id}
func (h *WorkerHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		RenderError(w, http.StatusBadRequest, "Invalid worker ID")
		return
	}

	if err := h.workers.Unregister(r.Context(), id); err != nil {
		RenderDomainError(w, err, "Failed to unregister worker")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
