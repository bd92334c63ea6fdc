package queue

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/leadscope/internal/config"
)

// Worker runs asynq servers for a set of pools. Each pool gets its own
// server so its concurrency is independent of the others.
type Worker struct {
	redisOpt asynq.RedisConnOpt
	pools    map[Pool]int
	mux      *asynq.ServeMux
	log      *zap.Logger
}

// NewWorker creates a worker for the given pools, mapping each pool to its
// concurrency.
func NewWorker(cfg config.RedisConfig, pools map[Pool]int) (*Worker, error) {
	opt, err := RedisOpt(cfg)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return nil, eris.New("queue: worker needs at least one pool")
	}

	return &Worker{
		redisOpt: opt,
		pools:    pools,
		mux:      asynq.NewServeMux(),
		log:      zap.L().With(zap.String("component", "queue_worker")),
	}, nil
}

// Handle registers h for a task type.
func (w *Worker) Handle(taskType string, h Handler) {
	w.mux.HandleFunc(taskType, func(ctx context.Context, task *asynq.Task) error {
		payload, err := UnmarshalPayload(task.Payload())
		if err != nil {
			return eris.Wrap(asynq.SkipRetry, err.Error())
		}

		job := Job{Type: task.Type(), Payload: payload}
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.ID = id
		}
		retry, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		err = h(withAttempt(ctx, retry, maxRetry), job)
		if err != nil && errors.Is(err, ErrSkipRetry) {
			return eris.Wrap(asynq.SkipRetry, err.Error())
		}
		return err
	})
}

// Run starts one server per pool and blocks until ctx is cancelled or a
// server fails to start.
func (w *Worker) Run(ctx context.Context) error {
	servers := make([]*asynq.Server, 0, len(w.pools))
	for pool, concurrency := range w.pools {
		if concurrency <= 0 {
			concurrency = 1
		}
		srv := asynq.NewServer(w.redisOpt, asynq.Config{
			Concurrency:    concurrency,
			Queues:         bandWeights(pool),
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retry, _ := asynq.GetRetryCount(ctx)
				w.log.Warn("job failed",
					zap.String("pool", string(pool)),
					zap.String("type", task.Type()),
					zap.Int("retry", retry),
					zap.Error(err),
				)
			}),
			Logger: newAsynqLogger(w.log.With(zap.String("pool", string(pool)))),
		})
		if err := srv.Start(w.mux); err != nil {
			for _, s := range servers {
				s.Shutdown()
			}
			return eris.Wrapf(err, "queue: start %s server", pool)
		}
		servers = append(servers, srv)
		w.log.Info("pool started", zap.String("pool", string(pool)), zap.Int("concurrency", concurrency))
	}

	<-ctx.Done()

	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error {
			srv.Shutdown()
			return nil
		})
	}
	_ = g.Wait()

	return ctx.Err()
}

func bandWeights(pool Pool) map[string]int {
	weights := make(map[string]int, len(Bands))
	for i, band := range Bands {
		weights[string(pool)+":"+band] = len(Bands) - i
	}
	return weights
}

// asynqLogger adapts asynq logging to zap
type asynqLogger struct {
	s *zap.SugaredLogger
}

func newAsynqLogger(l *zap.Logger) *asynqLogger {
	return &asynqLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.s.Debug(args...)
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.s.Info(args...)
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.s.Warn(args...)
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.s.Error(args...)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.s.Fatal(args...)
}
