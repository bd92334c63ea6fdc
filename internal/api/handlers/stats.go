package handlers

import (
	"context"
	"net/http"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/queue"
)

// StatsServiceInterface defines the stats service methods
type StatsServiceInterface interface {
	GetStats(ctx context.Context) (*domain.Stats, error)
	Queues(ctx context.Context) ([]queue.Stats, error)
}

// StatsHandler handles statistics-related HTTP requests
type StatsHandler struct {
	stats StatsServiceInterface
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(stats StatsServiceInterface) *StatsHandler {
	return &StatsHandler{
		stats: stats,
	}
}

// GetDashboardStats handles GET /api/v2/stats
func (h *StatsHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		RenderDomainError(w, err, "Failed to get stats")
		return
	}

	RenderJSON(w, http.StatusOK, stats)
}

// Queues handles GET /api/v2/queues
func (h *StatsHandler) Queues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.stats.Queues(r.Context())
	if err != nil {
		RenderDomainError(w, err, "Failed to inspect queues")
		return
	}

	RenderJSON(w, http.StatusOK, map[string]any{"queues": queues})
}
