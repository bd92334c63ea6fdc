package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// StrategyStatus represents the lifecycle of a coverage strategy
type StrategyStatus string

const (
	StrategyStatusActive     StrategyStatus = "active"
	StrategyStatusSuperseded StrategyStatus = "superseded"
	StrategyStatusExhausted  StrategyStatus = "exhausted"
)

// CanDispatch returns true if new zones may be dispatched for the strategy
func (s StrategyStatus) CanDispatch() bool {
	return s == StrategyStatusActive
}

// CoverageStrategy is the ordered set of zones for one (region, category) campaign
type CoverageStrategy struct {
	ID              uuid.UUID      `json:"id"`
	Region          string         `json:"region"`
	Category        string         `json:"category"`
	Status          StrategyStatus `json:"status"`
	ZonesTotal      int            `json:"zones_total"`
	ZonesCompleted  int            `json:"zones_completed"`
	BusinessesFound int            `json:"businesses_found"`
	SupersededBy    *uuid.UUID     `json:"superseded_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Percentage returns zone completion in percent
func (s *CoverageStrategy) Percentage() float64 {
	if s.ZonesTotal == 0 {
		return 0
	}
	return float64(s.ZonesCompleted) / float64(s.ZonesTotal) * 100
}

// NewStrategy creates an active strategy for the given pair
func NewStrategy(region, category string, zones int) *CoverageStrategy {
	now := time.Now().UTC()
	return &CoverageStrategy{
		ID:         uuid.New(),
		Region:     NormalizeKey(region),
		Category:   NormalizeKey(category),
		Status:     StrategyStatusActive,
		ZonesTotal: zones,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NormalizeKey lowercases and trims region/category identifiers so that
// "Denver " and "denver" address the same campaign.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// StartCoverageRequest is the request to create or fetch a strategy
type StartCoverageRequest struct {
	Region     string `json:"region" validate:"required,min=2,max=200"`
	Category   string `json:"category" validate:"required,min=2,max=100"`
	Regenerate bool   `json:"regenerate"`
	RadiusM    int    `json:"radius_m,omitempty" validate:"omitempty,min=100,max=50000"`
}

// StartCoverageResponse is returned by start_coverage
type StartCoverageResponse struct {
	StrategyID uuid.UUID `json:"strategy_id"`
	ZoneCount  int       `json:"zone_count"`
	Created    bool      `json:"created"`
}

// StrategyListParams are parameters for listing strategies
type StrategyListParams struct {
	Status *StrategyStatus
	Limit  int
	Offset int
}
