package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// metersPerDegreeLat is the approximate length of one degree of latitude.
const metersPerDegreeLat = 111320.0

// MaxGridPoints caps the number of zones a single grid can produce.
const MaxGridPoints = 400

// BoundingBox represents a geographic bounding box
type BoundingBox struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// IsValid returns true if the bounding box has valid coordinates
func (b *BoundingBox) IsValid() bool {
	if b == nil {
		return false
	}
	if b.MaxLat < -90 || b.MaxLat > 90 || b.MinLat < -90 || b.MinLat > 90 {
		return false
	}
	if b.MaxLon < -180 || b.MaxLon > 180 || b.MinLon < -180 || b.MinLon > 180 {
		return false
	}
	// cross-dateline boxes are not supported
	return b.MaxLat > b.MinLat && b.MaxLon > b.MinLon
}

// Center returns the center point of the bounding box
func (b *BoundingBox) Center() (lat, lon float64) {
	lat = (b.MaxLat + b.MinLat) / 2
	lon = (b.MaxLon + b.MinLon) / 2
	return
}

// GridPoint represents a single point in the search grid
type GridPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GenerateGridByRadius creates a grid of search points within the bounding box.
// Points are spaced radiusMeters apart and sit at the center of each cell.
func (b *BoundingBox) GenerateGridByRadius(radiusMeters int) []GridPoint {
	if radiusMeters < 100 {
		radiusMeters = 100
	}

	latStep := float64(radiusMeters) / metersPerDegreeLat

	// longitude degrees shrink with latitude, approximate at the box center
	centerLat := (b.MaxLat + b.MinLat) / 2
	lonStep := float64(radiusMeters) / (metersPerDegreeLat * math.Cos(centerLat*math.Pi/180.0))

	points := make([]GridPoint, 0)

	for lat := b.MinLat + latStep/2; lat < b.MaxLat; lat += latStep {
		for lon := b.MinLon + lonStep/2; lon < b.MaxLon; lon += lonStep {
			points = append(points, GridPoint{Lat: lat, Lon: lon})
			if len(points) >= MaxGridPoints {
				return points
			}
		}
	}

	// box smaller than one cell
	if len(points) == 0 {
		lat, lon := b.Center()
		points = append(points, GridPoint{Lat: lat, Lon: lon})
	}

	return points
}

// Zone is one independently scraped sub-unit of a coverage region.
// Everything except Completed/CompletedAt is fixed at creation.
type Zone struct {
	ID               uuid.UUID  `json:"id"`
	StrategyID       uuid.UUID  `json:"strategy_id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	CenterLat        float64    `json:"center_lat"`
	CenterLon        float64    `json:"center_lon"`
	RadiusMeters     int        `json:"radius_m"`
	PriorityTier     int        `json:"priority_tier"`
	EstimatedDensity float64    `json:"estimated_density"`
	Position         int        `json:"position"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ZoneSpec describes a zone before it is attached to a strategy.
type ZoneSpec struct {
	Code             string
	Name             string
	Lat              float64
	Lon              float64
	RadiusMeters     int
	PriorityTier     int
	EstimatedDensity float64
}

// ZoneCounts are the per-zone totals reported when a zone finishes.
type ZoneCounts struct {
	Total      int `json:"total"`
	Scraped    int `json:"scraped"`
	Validated  int `json:"validated"`
	Discovered int `json:"discovered"`
}
