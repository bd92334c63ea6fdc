package runner

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/cache"
	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/orchestrator"
	"github.com/sadewadee/leadscope/internal/provider/evidence"
	"github.com/sadewadee/leadscope/internal/provider/places"
	"github.com/sadewadee/leadscope/internal/provider/websearch"
	"github.com/sadewadee/leadscope/internal/queue"
	"github.com/sadewadee/leadscope/internal/ratelimit"
	"github.com/sadewadee/leadscope/internal/regions"
	"github.com/sadewadee/leadscope/internal/renderer"
	"github.com/sadewadee/leadscope/internal/repository/postgres"
	"github.com/sadewadee/leadscope/internal/repository/sqlite"
	"github.com/sadewadee/leadscope/internal/resilience"
	"github.com/sadewadee/leadscope/internal/scraper"
	"github.com/sadewadee/leadscope/internal/screenshot"
	"github.com/sadewadee/leadscope/internal/verify"
)

// Store bundles the repositories of one database
type Store struct {
	db     *sql.DB
	driver string

	Strategies domain.StrategyRepository
	Sessions   domain.SessionRepository
	Candidates domain.CandidateRepository
	Workers    domain.WorkerRepository
	Stats      domain.StatsRepository
}

// OpenStore connects to the configured database
func OpenStore(cfg config.StoreConfig) (*Store, error) {
	s := &Store{driver: cfg.DriverName()}

	switch s.driver {
	case "postgres":
		db, err := postgres.OpenConnection(cfg.DSN)
		if err != nil {
			return nil, eris.Wrap(err, "runner: open postgres")
		}
		repos := postgres.NewRepositories(db)
		s.db = db
		s.Strategies, s.Sessions, s.Candidates, s.Workers, s.Stats =
			repos.Strategies, repos.Sessions, repos.Candidates, repos.Workers, repos.Stats
	default:
		db, err := sqlite.OpenConnection(cfg.DSN)
		if err != nil {
			return nil, eris.Wrap(err, "runner: open sqlite")
		}
		repos := sqlite.NewRepositories(db)
		s.db = db
		s.Strategies, s.Sessions, s.Candidates, s.Workers, s.Stats =
			repos.Strategies, repos.Sessions, repos.Candidates, repos.Workers, repos.Stats
	}

	return s, nil
}

// Driver reports the database driver in use
func (s *Store) Driver() string {
	return s.driver
}

// Migrate applies pending schema migrations
func (s *Store) Migrate() error {
	if s.driver == "postgres" {
		return postgres.RunMigrations(s.db)
	}
	return sqlite.RunMigrations(s.db)
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OpenRedis connects to Redis when configured. It returns nil otherwise.
func OpenRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return cache.NewRedisClient(cfg)
}

// NewCache returns the status cache selected by cfg
func NewCache(cfg config.CacheConfig, rdb *redis.Client) (cache.Cache, error) {
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, eris.New("runner: redis cache needs a redis connection")
		}
		return cache.NewRedisCache(rdb), nil
	case "none":
		return cache.NewNoOpCache(), nil
	default:
		return cache.NewMemoryCache(), nil
	}
}

// RetryPolicy converts the retry config into a resilience policy
func RetryPolicy(cfg config.RetryConfig) resilience.Policy {
	return resilience.NewPolicy(cfg.MaxAttempts, cfg.InitialBackoff, cfg.MaxBackoff)
}

// PoolConcurrency maps pool names to their configured concurrency
func PoolConcurrency(cfg *config.Config, names []string) (map[queue.Pool]int, error) {
	pools := make(map[queue.Pool]int, len(names))
	for _, name := range names {
		switch queue.Pool(name) {
		case queue.PoolAcquisition:
			pools[queue.PoolAcquisition] = cfg.Acquisition.Concurrency
		case queue.PoolDiscovery:
			pools[queue.PoolDiscovery] = cfg.Discovery.Concurrency
		case queue.PoolConfirmation:
			pools[queue.PoolConfirmation] = cfg.Confirmation.Concurrency
		default:
			return nil, eris.Errorf("runner: unknown pool %q", name)
		}
	}
	if len(pools) == 0 {
		return nil, eris.New("runner: no pools selected")
	}
	return pools, nil
}

// NewCoverage loads the region catalog and builds the coverage service
func NewCoverage(cfg *config.Config, store *Store) (*coverage.Service, *regions.Catalog, error) {
	catalog, err := regions.Load(cfg.Regions.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	return coverage.NewService(store.Strategies, catalog, cfg.Acquisition.RadiusM), catalog, nil
}

// Pipeline holds the pool handlers a process can run
type Pipeline struct {
	Scraper orchestrator.Scraper
	Probe   orchestrator.Step
	Deep    orchestrator.Step
	Confirm orchestrator.Step

	closers []func() error
}

// Close releases browsers and other pipeline resources
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// BuildPipeline constructs the handlers for the selected pools. Tier 1
// probing rides on the discovery pool.
func BuildPipeline(ctx context.Context, cfg *config.Config, store *Store, rdb *redis.Client, pools map[queue.Pool]int) (*Pipeline, error) {
	log := zap.L().With(zap.String("component", "runner"))
	policy := RetryPolicy(cfg.Retry)
	p := &Pipeline{}

	if _, ok := pools[queue.PoolAcquisition]; ok {
		if cfg.Places.Key == "" {
			return nil, eris.New("runner: places.key is required for the acquisition pool")
		}
		client := places.NewClient(cfg.Places.Key, places.WithBaseURL(cfg.Places.BaseURL))

		var dedup scraper.Deduper = scraper.NewMemoryDeduper()
		if rdb != nil {
			dedup = scraper.NewRedisDeduper(rdb, "leadscope", 0)
		}

		p.Scraper = scraper.New(client, store.Candidates, dedup, scraper.Config{
			MaxPages: cfg.Places.MaxPages,
			Timeout:  cfg.Acquisition.Timeout,
			Policy:   policy,
		})
	}

	if _, ok := pools[queue.PoolDiscovery]; ok {
		if cfg.Jina.Key == "" {
			return nil, eris.New("runner: jina.key is required for the discovery pool")
		}
		prober := verify.NewProber(store.Candidates, cfg.Verify.ProbeTimeout, policy)
		p.Probe = orchestrator.StepFunc(prober.Check)

		search := websearch.NewClient(cfg.Jina.Key, websearch.WithBaseURL(cfg.Jina.SearchBaseURL))

		var limiter ratelimit.Limiter = ratelimit.NewLocal(cfg.Discovery.Interval)
		if cfg.Discovery.Limiter == "redis" {
			if rdb == nil {
				return nil, eris.New("runner: redis limiter needs a redis connection")
			}
			limiter = ratelimit.NewRedis(rdb, "websearch", cfg.Discovery.Interval)
		}

		var oracle evidence.Scorer
		if cfg.Verify.OracleEnabled {
			a, err := evidence.NewAnthropic(cfg.Anthropic.Key, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
			if err != nil {
				return nil, err
			}
			oracle = a
		}

		deep := verify.NewDeepVerifier(store.Candidates, search, limiter,
			verify.NewScorer(cfg.Verify.MinConfidence, cfg.Verify.DirectoryDomains), oracle,
			verify.DeepConfig{
				SearchTimeout:       cfg.Verify.SearchTimeout,
				OracleMaxConfidence: cfg.Verify.OracleMaxConfidence,
				Policy:              policy,
			})
		p.Deep = orchestrator.StepFunc(deep.Verify)
	}

	if _, ok := pools[queue.PoolConfirmation]; ok {
		r, err := renderer.New(cfg.Renderer)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.closers = append(p.closers, r.Close)

		var shots screenshot.Store
		if cfg.Screenshot.Enabled {
			s3, err := screenshot.NewS3Store(ctx, cfg.Screenshot)
			if err != nil {
				_ = p.Close()
				return nil, err
			}
			shots = s3
		}

		confirmer := verify.NewConfirmer(store.Candidates, r,
			renderer.NewMemoryGuard(cfg.Confirmation.MaxMemoryPercent, 2*time.Second), shots,
			verify.ConfirmConfig{
				Timeout:          cfg.Renderer.Timeout,
				MinContentLength: cfg.Renderer.MinContentLength,
				Screenshot:       cfg.Screenshot.Enabled,
				Policy:           policy,
			})
		p.Confirm = orchestrator.StepFunc(confirmer.Confirm)
	}

	log.Info("pipeline ready",
		zap.Bool("acquisition", p.Scraper != nil),
		zap.Bool("discovery", p.Deep != nil),
		zap.Bool("confirmation", p.Confirm != nil),
		zap.Bool("oracle", cfg.Verify.OracleEnabled),
	)

	return p, nil
}
