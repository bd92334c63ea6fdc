package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/runner"
	"github.com/sadewadee/leadscope/runner/databaserunner"
	"github.com/sadewadee/leadscope/runner/managerrunner"
	"github.com/sadewadee/leadscope/runner/workerrunner"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "leadscope",
	Short:         "Geo-zone lead coverage with tiered website verification",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.InitLogger(loaded.Log); err != nil {
			return err
		}
		cfg = loaded

		runner.Banner(cmd.Name())
		return nil
	},
}

var (
	managerAddr string
	workerID    string
	workerPools []string
	seedRegions []string
	seedCats    []string
	seedRegen   bool
	seedRadiusM int
)

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Serve the API and run the background loops",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if managerAddr != "" {
			cfg.Server.Addr = managerAddr
		}
		return execute(cmd.Context(), func(ctx context.Context) (runner.Runner, error) {
			return managerrunner.New(ctx, cfg)
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process acquisition and verification jobs from the shared queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if workerID != "" {
			cfg.Worker.ID = workerID
		}
		if len(workerPools) > 0 {
			cfg.Worker.Pools = runner.SplitList(workerPools)
		}
		return execute(cmd.Context(), func(ctx context.Context) (runner.Runner, error) {
			return workerrunner.New(ctx, cfg)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return execute(cmd.Context(), func(context.Context) (runner.Runner, error) {
			return databaserunner.NewMigrate(cfg)
		})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create coverage strategies for every region and category pair",
	RunE: func(cmd *cobra.Command, _ []string) error {
		seed := runner.SeedConfig{
			Regions:    seedRegions,
			Categories: seedCats,
			Regenerate: seedRegen,
			RadiusM:    seedRadiusM,
		}
		return execute(cmd.Context(), func(context.Context) (runner.Runner, error) {
			return databaserunner.NewSeed(cfg, seed, cmd.OutOrStdout())
		})
	},
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "leadscope", runner.VersionString())
	},
}

func init() {
	managerCmd.Flags().StringVar(&managerAddr, "addr", "", "listen address (overrides server.addr)")

	workerCmd.Flags().StringVar(&workerID, "id", "", "worker id (defaults to hostname plus a random suffix)")
	workerCmd.Flags().StringSliceVar(&workerPools, "pools", nil, "pools to serve: acquisition,discovery,confirmation")

	seedCmd.Flags().StringSliceVar(&seedRegions, "regions", nil, "regions to cover (required)")
	seedCmd.Flags().StringSliceVar(&seedCats, "categories", nil, "business categories (required)")
	seedCmd.Flags().BoolVar(&seedRegen, "regenerate", false, "supersede existing strategies")
	seedCmd.Flags().IntVar(&seedRadiusM, "radius", 0, "grid radius in meters for regions without named areas")
	for _, name := range []string{"regions", "categories"} {
		if err := seedCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}

	rootCmd.AddCommand(managerCmd, workerCmd, migrateCmd, seedCmd, versionCmd)
}

// execute builds a runner and runs it until it returns or a signal arrives
func execute(ctx context.Context, build func(context.Context) (runner.Runner, error)) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		_ = runner.Telemetry(cfg.Telemetry).Close()
		_ = zap.L().Sync()
	}()

	r, err := build(ctx)
	if err != nil {
		return err
	}

	runErr := r.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeCtx := context.WithoutCancel(ctx)
	if err := r.Close(closeCtx); err != nil {
		zap.L().Warn("close", zap.Error(err))
	}

	return runErr
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
