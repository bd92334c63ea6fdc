package handlers

import (
	"net/http"

	"github.com/sadewadee/leadscope/internal/regions"
)

// RegionHandler serves the region catalog
type RegionHandler struct {
	catalog *regions.Catalog
}

// NewRegionHandler creates a new RegionHandler
func NewRegionHandler(catalog *regions.Catalog) *RegionHandler {
	return &RegionHandler{catalog: catalog}
}

// List handles GET /api/v2/regions
func (h *RegionHandler) List(w http.ResponseWriter, _ *http.Request) {
	RenderJSON(w, http.StatusOK, map[string]any{"regions": h.catalog.List()})
}

// Get handles GET /api/v2/regions/{key}
func (h *RegionHandler) Get(w http.ResponseWriter, r *http.Request) {
	region, ok := h.catalog.Lookup(r.PathValue("key"))
	if !ok {
		RenderError(w, http.StatusNotFound, "Region not found")
		return
	}
	RenderJSON(w, http.StatusOK, region)
}
