package runner

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
)

type fakeCreator struct {
	calls [][2]string
	known map[string]bool
}

func (f *fakeCreator) CreateOrGet(_ context.Context, region, category string, opts coverage.Options) (*domain.CoverageStrategy, bool, error) {
	f.calls = append(f.calls, [2]string{region, category})
	if region == "atlantis" {
		return nil, false, domain.ErrRegionUnknown
	}
	key := region + "/" + category
	created := !f.known[key] || opts.Regenerate
	f.known[key] = true
	return &domain.CoverageStrategy{ID: uuid.New(), ZonesTotal: 4}, created, nil
}

func TestSeedStrategies(t *testing.T) {
	f := &fakeCreator{known: map[string]bool{"denver/plumbers": true}}

	results, err := SeedStrategies(context.Background(), f, SeedConfig{
		Regions:    []string{"denver, atlantis"},
		Categories: []string{"plumbers", " roofers "},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, [][2]string{
		{"denver", "plumbers"}, {"denver", "roofers"},
		{"atlantis", "plumbers"}, {"atlantis", "roofers"},
	}, f.calls)

	assert.False(t, results[0].Created)
	assert.True(t, results[1].Created)
	assert.Equal(t, 4, results[1].Zones)
	assert.ErrorIs(t, results[2].Err, domain.ErrRegionUnknown)
}

func TestSeedStrategies_RequiresPairs(t *testing.T) {
	tests := []struct {
		name string
		cfg  SeedConfig
	}{
		{"no regions", SeedConfig{Categories: []string{"plumbers"}}},
		{"no categories", SeedConfig{Regions: []string{"denver"}}},
		{"blank entries", SeedConfig{Regions: []string{" , "}, Categories: []string{"plumbers"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SeedStrategies(context.Background(), &fakeCreator{known: map[string]bool{}}, tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList([]string{"a, b", "", " c "}))
	assert.Nil(t, SplitList(nil))
}
