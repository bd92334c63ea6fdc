package domain

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestBoundingBox_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		box      *BoundingBox
		expected bool
	}{
		{name: "nil", box: nil, expected: false},
		{name: "valid", box: &BoundingBox{MinLat: 39.6, MaxLat: 39.9, MinLon: -105.1, MaxLon: -104.8}, expected: true},
		{name: "inverted lat", box: &BoundingBox{MinLat: 40, MaxLat: 39, MinLon: -105, MaxLon: -104}, expected: false},
		{name: "out of range", box: &BoundingBox{MinLat: -91, MaxLat: 10, MinLon: 0, MaxLon: 1}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.box.IsValid())
		})
	}
}

func TestBoundingBox_GenerateGridByRadius(t *testing.T) {
	box := &BoundingBox{MinLat: 39.60, MaxLat: 39.70, MinLon: -105.00, MaxLon: -104.90}

	points := box.GenerateGridByRadius(2000)
	assert.NotEmpty(t, points)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Lat, box.MinLat)
		assert.LessOrEqual(t, p.Lat, box.MaxLat)
		assert.GreaterOrEqual(t, p.Lon, box.MinLon)
		assert.LessOrEqual(t, p.Lon, box.MaxLon)
	}

	t.Run("tiny box yields center", func(t *testing.T) {
		tiny := &BoundingBox{MinLat: 10, MaxLat: 10.0001, MinLon: 10, MaxLon: 10.0001}
		pts := tiny.GenerateGridByRadius(5000)
		assert.Len(t, pts, 1)
	})

	t.Run("capped", func(t *testing.T) {
		huge := &BoundingBox{MinLat: 30, MaxLat: 45, MinLon: -110, MaxLon: -90}
		assert.Len(t, huge.GenerateGridByRadius(100), MaxGridPoints)
	})
}

func TestSessionCounts_Percentage(t *testing.T) {
	assert.Equal(t, 0.0, SessionCounts{}.Percentage())
	assert.InDelta(t, 50.0, SessionCounts{Scraped: 10, Validated: 5}.Percentage(), 0.001)
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, "ProviderTimeout", ReasonOf(eris.Wrap(ErrProviderTimeout, "places: search")))
	assert.Equal(t, "ProviderQuotaExceeded", ReasonOf(ErrProviderQuotaExceeded))
	assert.Equal(t, "boom", ReasonOf(errors.New("boom")))
	assert.Equal(t, "", ReasonOf(nil))
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 0, ClampPriority(-3))
	assert.Equal(t, 10, ClampPriority(42))
	assert.Equal(t, 5, ClampPriority(5))
}
