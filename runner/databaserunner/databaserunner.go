// Package databaserunner holds the one-shot database commands: schema
// migration and strategy seeding.
package databaserunner

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/runner"
)

type migrateRunner struct {
	store *runner.Store
}

// NewMigrate returns a runner that applies pending migrations and exits
func NewMigrate(cfg *config.Config) (runner.Runner, error) {
	store, err := runner.OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	return &migrateRunner{store: store}, nil
}

func (r *migrateRunner) Run(_ context.Context) error {
	if err := r.store.Migrate(); err != nil {
		return eris.Wrap(err, "migrate")
	}
	zap.L().Info("database migrations completed", zap.String("store", r.store.Driver()))
	return nil
}

func (r *migrateRunner) Close(_ context.Context) error {
	return r.store.Close()
}

type seedRunner struct {
	cfg   *config.Config
	seed  runner.SeedConfig
	store *runner.Store
	out   io.Writer
}

// NewSeed returns a runner that creates the strategies listed in seed and
// prints a summary to out
func NewSeed(cfg *config.Config, seed runner.SeedConfig, out io.Writer) (runner.Runner, error) {
	store, err := runner.OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	return &seedRunner{cfg: cfg, seed: seed, store: store, out: out}, nil
}

func (r *seedRunner) Run(ctx context.Context) error {
	if err := r.store.Migrate(); err != nil {
		return eris.Wrap(err, "seed: migrate")
	}

	cov, _, err := runner.NewCoverage(r.cfg, r.store)
	if err != nil {
		return err
	}

	results, err := runner.SeedStrategies(ctx, cov, r.seed)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tCATEGORY\tSTRATEGY\tZONES\tSTATUS")

	failed := 0
	for _, res := range results {
		status := "existing"
		switch {
		case res.Err != nil:
			status = res.Err.Error()
			failed++
		case res.Created:
			status = "created"
		}
		strategy := "-"
		if res.Err == nil {
			strategy = res.StrategyID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", res.Region, res.Category, strategy, res.Zones, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return eris.Errorf("seed: %d of %d pairs failed", failed, len(results))
	}
	return nil
}

func (r *seedRunner) Close(_ context.Context) error {
	return r.store.Close()
}
