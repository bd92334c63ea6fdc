package workerrunner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/internal/heartbeat"
	"github.com/sadewadee/leadscope/internal/orchestrator"
	"github.com/sadewadee/leadscope/internal/progress"
	"github.com/sadewadee/leadscope/internal/queue"
	"github.com/sadewadee/leadscope/runner"
	"github.com/sadewadee/leadscope/tlmt"
)

// WorkerRunner executes pool jobs pulled from the shared queue
type WorkerRunner struct {
	cfg      *config.Config
	id       string
	pools    map[queue.Pool]int
	store    *runner.Store
	rdb      *redis.Client
	bus      progress.Bus
	asynq    *queue.Asynq
	server   *queue.Worker
	pipeline *runner.Pipeline
	beater   *heartbeat.Beater
	log      *zap.Logger
}

// New creates a new WorkerRunner
func New(ctx context.Context, cfg *config.Config) (runner.Runner, error) {
	if cfg.Queue.Backend != "asynq" {
		return nil, eris.New("worker: a standalone worker needs queue.backend=asynq")
	}

	id := cfg.Worker.ID
	if id == "" {
		hostname, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	}

	w := &WorkerRunner{
		cfg: cfg,
		id:  id,
		log: zap.L().With(zap.String("component", "worker"), zap.String("worker_id", id)),
	}
	if err := w.init(ctx); err != nil {
		_ = w.Close(ctx)
		return nil, err
	}
	return w, nil
}

func (w *WorkerRunner) init(ctx context.Context) error {
	cfg := w.cfg

	pools, err := runner.PoolConcurrency(cfg, cfg.Worker.Pools)
	if err != nil {
		return err
	}
	w.pools = pools

	if w.store, err = runner.OpenStore(cfg.Store); err != nil {
		return err
	}
	if w.rdb, err = runner.OpenRedis(cfg.Redis); err != nil {
		return err
	}
	if w.bus, err = progress.Open(cfg, w.rdb); err != nil {
		return err
	}
	if w.asynq, err = queue.NewAsynq(cfg.Redis); err != nil {
		return err
	}
	if w.server, err = queue.NewWorker(cfg.Redis, pools); err != nil {
		return err
	}
	if w.pipeline, err = runner.BuildPipeline(ctx, cfg, w.store, w.rdb, pools); err != nil {
		return err
	}

	cov, _, err := runner.NewCoverage(cfg, w.store)
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Deps{
		Coverage:   cov,
		Strategies: w.store.Strategies,
		Sessions:   w.store.Sessions,
		Candidates: w.store.Candidates,
		Queue:      w.asynq,
		Bus:        w.bus,
		Telemetry:  runner.Telemetry(cfg.Telemetry),
		Scraper:    w.pipeline.Scraper,
		Probe:      w.pipeline.Probe,
		Deep:       w.pipeline.Deep,
		Confirm:    w.pipeline.Confirm,
	})
	orch.Register(w.server)

	concurrency := make(map[string]int, len(pools))
	for p, n := range pools {
		concurrency[string(p)] = n
	}
	w.beater = heartbeat.NewBeater(w.store.Workers, w.id, concurrency, 0)

	return nil
}

// Run registers the worker and serves its pools until ctx is cancelled
func (w *WorkerRunner) Run(ctx context.Context) error {
	w.log.Info("starting worker", zap.Any("pools", w.pools))

	_ = runner.Telemetry(w.cfg.Telemetry).Send(ctx, tlmt.NewEvent(tlmt.EventWorkerStarted, map[string]any{
		"pools": len(w.pools),
	}))

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return w.beater.Run(ctx)
	})

	egroup.Go(func() error {
		if err := w.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return egroup.Wait()
}

// Close cleans up resources
func (w *WorkerRunner) Close(_ context.Context) error {
	var errs []error
	if w.pipeline != nil {
		errs = append(errs, w.pipeline.Close())
	}
	if w.asynq != nil {
		errs = append(errs, w.asynq.Close())
	}
	if w.bus != nil {
		errs = append(errs, w.bus.Close())
	}
	if w.rdb != nil {
		errs = append(errs, w.rdb.Close())
	}
	if w.store != nil {
		errs = append(errs, w.store.Close())
	}
	return errors.Join(errs...)
}
