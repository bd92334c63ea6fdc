package managerrunner

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/leadscope/internal/api"
	"github.com/sadewadee/leadscope/internal/api/handlers"
	"github.com/sadewadee/leadscope/internal/cache"
	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/internal/heartbeat"
	"github.com/sadewadee/leadscope/internal/orchestrator"
	"github.com/sadewadee/leadscope/internal/progress"
	"github.com/sadewadee/leadscope/internal/queue"
	"github.com/sadewadee/leadscope/internal/service"
	"github.com/sadewadee/leadscope/runner"
)

// ManagerRunner serves the API and owns the background loops. With the
// memory queue it also runs every pool in-process.
type ManagerRunner struct {
	cfg   *config.Config
	store *runner.Store
	rdb   *redis.Client
	cache cache.Cache
	bus   progress.Bus

	srv       *http.Server
	hbMonitor *heartbeat.Monitor
	sweeper   *orchestrator.Sweeper

	// set for the memory backend
	local    *queue.Memory
	pipeline *runner.Pipeline
	// set for the asynq backend
	asynq *queue.Asynq

	log *zap.Logger
}

// New creates a new ManagerRunner
func New(ctx context.Context, cfg *config.Config) (runner.Runner, error) {
	m := &ManagerRunner{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "manager")),
	}
	if err := m.init(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}
	return m, nil
}

func (m *ManagerRunner) init(ctx context.Context) error {
	cfg := m.cfg

	store, err := runner.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	m.store = store

	if err := store.Migrate(); err != nil {
		return eris.Wrap(err, "manager: migrate")
	}

	if m.rdb, err = runner.OpenRedis(cfg.Redis); err != nil {
		return err
	}
	if m.cache, err = runner.NewCache(cfg.Cache, m.rdb); err != nil {
		return err
	}
	if m.bus, err = progress.Open(cfg, m.rdb); err != nil {
		return err
	}

	cov, catalog, err := runner.NewCoverage(cfg, store)
	if err != nil {
		return err
	}

	var (
		dispatcher queue.Dispatcher
		inspector  queue.Inspector
	)
	switch cfg.Queue.Backend {
	case "asynq":
		m.asynq, err = queue.NewAsynq(cfg.Redis)
		if err != nil {
			return err
		}
		dispatcher, inspector = m.asynq, m.asynq
	default:
		pools, err := runner.PoolConcurrency(cfg, cfg.Worker.Pools)
		if err != nil {
			return err
		}
		m.local = queue.NewMemory(pools)
		m.pipeline, err = runner.BuildPipeline(ctx, cfg, store, m.rdb, pools)
		if err != nil {
			return err
		}
		dispatcher, inspector = m.local, m.local
	}

	telemetry := runner.Telemetry(cfg.Telemetry)

	deps := orchestrator.Deps{
		Coverage:   cov,
		Strategies: store.Strategies,
		Sessions:   store.Sessions,
		Candidates: store.Candidates,
		Queue:      dispatcher,
		Bus:        m.bus,
		Telemetry:  telemetry,
	}
	if m.pipeline != nil {
		deps.Scraper = m.pipeline.Scraper
		deps.Probe = m.pipeline.Probe
		deps.Deep = m.pipeline.Deep
		deps.Confirm = m.pipeline.Confirm
	}
	orch := orchestrator.New(deps)
	if m.local != nil {
		orch.Register(m.local)
	}

	sessionSvc := service.NewSessionService(store.Sessions, store.Strategies, m.cache)
	router := api.NewRouter(
		handlers.NewStrategyHandler(cov, orch, telemetry),
		handlers.NewSessionHandler(sessionSvc, m.bus, handlers.DefaultStreamHeartbeat),
		handlers.NewCandidateHandler(service.NewCandidateService(store.Candidates), cov),
		handlers.NewRegionHandler(catalog),
		handlers.NewWorkerHandler(service.NewWorkerService(store.Workers)),
		handlers.NewStatsHandler(service.NewStatsService(store.Stats, inspector, m.cache)),
	)

	m.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.Setup(cfg.Server.APIToken, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// progress streams and exports outlive any fixed write deadline
		WriteTimeout:   0,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	m.hbMonitor = heartbeat.NewMonitor(store.Workers, store.Sessions, store.Candidates, cov, m.bus,
		cfg.Sessions.CheckInterval, cfg.Sessions.StaleAfter)

	if cfg.Sweeper.Enabled {
		m.sweeper = orchestrator.NewSweeper(orch, cfg.Sweeper.Interval)
	}

	return nil
}

// Run starts the manager
func (m *ManagerRunner) Run(ctx context.Context) error {
	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return m.hbMonitor.Run(ctx)
	})

	if m.sweeper != nil {
		egroup.Go(func() error {
			return m.sweeper.Run(ctx)
		})
	}

	if m.local != nil {
		egroup.Go(func() error {
			if err := m.local.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	egroup.Go(func() error {
		return m.startServer(ctx)
	})

	return egroup.Wait()
}

// Close cleans up resources
func (m *ManagerRunner) Close(_ context.Context) error {
	var errs []error
	if m.pipeline != nil {
		errs = append(errs, m.pipeline.Close())
	}
	if m.asynq != nil {
		errs = append(errs, m.asynq.Close())
	}
	if m.bus != nil {
		errs = append(errs, m.bus.Close())
	}
	if m.cache != nil {
		errs = append(errs, m.cache.Close())
	}
	if m.rdb != nil {
		errs = append(errs, m.rdb.Close())
	}
	if m.store != nil {
		errs = append(errs, m.store.Close())
	}
	return errors.Join(errs...)
}

func (m *ManagerRunner) startServer(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.srv.Shutdown(shutdownCtx); err != nil {
			m.log.Warn("error shutting down server", zap.Error(err))
		}
	}()

	m.log.Info("manager API server starting",
		zap.String("addr", m.srv.Addr),
		zap.String("store", m.store.Driver()),
		zap.String("queue", m.cfg.Queue.Backend),
		zap.String("progress", m.cfg.Progress.Backend),
		zap.Bool("sweeper", m.sweeper != nil),
	)

	err := m.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "manager: serve")
	}

	return nil
}
