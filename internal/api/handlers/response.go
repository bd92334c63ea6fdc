package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
)

// APIError represents an error response
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// PaginatedResponse wraps paginated results
type PaginatedResponse struct {
	Data       any `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// RenderJSON renders a JSON response
func RenderJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// RenderError renders an error response
func RenderError(w http.ResponseWriter, code int, message string) {
	RenderJSON(w, code, APIError{
		Code:    code,
		Message: message,
	})
}

// RenderDomainError maps a service error onto an HTTP status
func RenderDomainError(w http.ResponseWriter, err error, fallback string) {
	status, msg := http.StatusInternalServerError, fallback
	var verrs validator.ValidationErrors

	switch {
	case errors.As(err, &verrs):
		status, msg = http.StatusBadRequest, verrs.Error()
	case errors.Is(err, domain.ErrStrategyNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrCandidateNotFound),
		errors.Is(err, domain.ErrZoneNotFound),
		errors.Is(err, domain.ErrWorkerNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrRegionUnknown):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrNoZonesRemaining), errors.Is(err, domain.ErrStrategySuperseded):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrOrchestratorUnavailable):
		status, msg = http.StatusServiceUnavailable, "job queue unavailable"
	}

	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	RenderJSON(w, status, APIError{Code: status, Message: msg, Reason: domain.ReasonOf(err)})
}

// NewPaginatedResponse creates a paginated response
func NewPaginatedResponse(data any, total, page, perPage int) PaginatedResponse {
	totalPages := total / perPage
	if total%perPage > 0 {
		totalPages++
	}

	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

// pagination reads page and per_page, clamping per_page to [1, 100]
func pagination(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func parseID(r *http.Request) (uuid.UUID, error) {
	idStr := r.PathValue("id")
	if idStr == "" {
		idStr = r.URL.Query().Get("id")
	}
	return uuid.Parse(idStr)
}

var validate = validator.New()
