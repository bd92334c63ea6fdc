package api

import (
	"net/http"

	"github.com/sadewadee/leadscope/internal/api/handlers"
)

// Router sets up all API routes
type Router struct {
	mux        *http.ServeMux
	strategies *handlers.StrategyHandler
	sessions   *handlers.SessionHandler
	candidates *handlers.CandidateHandler
	regions    *handlers.RegionHandler
	workers    *handlers.WorkerHandler
	stats      *handlers.StatsHandler
}

// NewRouter creates a new Router
func NewRouter(
	strategies *handlers.StrategyHandler,
	sessions *handlers.SessionHandler,
	candidates *handlers.CandidateHandler,
	regions *handlers.RegionHandler,
	workers *handlers.WorkerHandler,
	stats *handlers.StatsHandler,
) *Router {
	return &Router{
		mux:        http.NewServeMux(),
		strategies: strategies,
		sessions:   sessions,
		candidates: candidates,
		regions:    regions,
		workers:    workers,
		stats:      stats,
	}
}

// Setup configures all routes
func (r *Router) Setup(token string, corsOrigins []string) http.Handler {
	r.mux.HandleFunc("GET /health", health)

	r.mux.HandleFunc("GET /api/v2/stats", r.stats.GetDashboardStats)
	r.mux.HandleFunc("GET /api/v2/queues", r.stats.Queues)

	r.mux.HandleFunc("POST /api/v2/strategies", r.strategies.Create)
	r.mux.HandleFunc("GET /api/v2/strategies", r.strategies.List)
	r.mux.HandleFunc("GET /api/v2/strategies/{id}", r.strategies.Get)
	r.mux.HandleFunc("GET /api/v2/strategies/{id}/zones", r.strategies.Zones)
	r.mux.HandleFunc("GET /api/v2/strategies/{id}/next", r.strategies.PeekNext)
	r.mux.HandleFunc("POST /api/v2/strategies/{id}/next", r.strategies.Next)
	r.mux.HandleFunc("GET /api/v2/strategies/{id}/candidates/download", r.candidates.Download)

	r.mux.HandleFunc("GET /api/v2/sessions", r.sessions.List)
	r.mux.HandleFunc("GET /api/v2/sessions/{id}", r.sessions.Get)
	r.mux.HandleFunc("GET /api/v2/sessions/{id}/stream", r.sessions.Stream)

	r.mux.HandleFunc("GET /api/v2/candidates", r.candidates.List)
	r.mux.HandleFunc("GET /api/v2/candidates/{id}", r.candidates.Get)

	r.mux.HandleFunc("GET /api/v2/regions", r.regions.List)
	r.mux.HandleFunc("GET /api/v2/regions/{key}", r.regions.Get)

	r.mux.HandleFunc("GET /api/v2/workers", r.workers.List)
	r.mux.HandleFunc("GET /api/v2/workers/stats", r.workers.GetStats)
	r.mux.HandleFunc("DELETE /api/v2/workers/{id}", r.workers.Unregister)

	return Chain(r.mux,
		Recovery,
		Logger,
		CORS(corsOrigins),
		SecurityHeaders,
		Auth(token),
	)
}

func health(w http.ResponseWriter, _ *http.Request) {
	handlers.RenderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
