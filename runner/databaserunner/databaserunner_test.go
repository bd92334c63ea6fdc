package databaserunner

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/runner"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:       config.StoreConfig{DSN: filepath.Join(t.TempDir(), "seed.db")},
		Acquisition: config.AcquisitionConfig{RadiusM: 3000},
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	r, err := NewMigrate(testConfig(t))
	require.NoError(t, err)
	defer r.Close(ctx)

	require.NoError(t, r.Run(ctx))
	// idempotent
	require.NoError(t, r.Run(ctx))
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	var out bytes.Buffer
	r, err := NewSeed(cfg, runner.SeedConfig{
		Regions:    []string{"denver"},
		Categories: []string{"plumbers,roofers"},
	}, &out)
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Close(ctx))

	assert.Contains(t, out.String(), "plumbers")
	assert.Contains(t, out.String(), "created")

	out.Reset()
	r, err = NewSeed(cfg, runner.SeedConfig{
		Regions:    []string{"denver", "atlantis"},
		Categories: []string{"plumbers"},
	}, &out)
	require.NoError(t, err)
	defer r.Close(ctx)

	err = r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 pairs failed")
	assert.Contains(t, out.String(), "existing")
}
