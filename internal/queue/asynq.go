package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/config"
	"github.com/sadewadee/leadscope/internal/domain"
)

// retention keeps completed tasks around so their IDs keep deduplicating
// redelivered enqueues.
const retention = 24 * time.Hour

// RedisOpt builds asynq connection options from the Redis config.
func RedisOpt(cfg config.RedisConfig) (asynq.RedisConnOpt, error) {
	if cfg.URL != "" {
		opt, err := asynq.ParseRedisURI(cfg.URL)
		if err != nil {
			return nil, eris.Wrap(err, "queue: parse redis URL")
		}
		return opt, nil
	}
	if cfg.Addr != "" {
		return asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}, nil
	}
	return nil, eris.New("queue: redis URL or address is required")
}

// Asynq is the Redis-backed Dispatcher and Inspector.
type Asynq struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	log       *zap.Logger
}

// NewAsynq connects a dispatcher to Redis.
func NewAsynq(cfg config.RedisConfig) (*Asynq, error) {
	opt, err := RedisOpt(cfg)
	if err != nil {
		return nil, err
	}

	return &Asynq{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		log:       zap.L().With(zap.String("component", "queue")),
	}, nil
}

// Enqueue places the job on its pool's sub-queue. A job whose ID is already
// known is dropped silently. Any other failure wraps
// domain.ErrOrchestratorUnavailable.
func (q *Asynq) Enqueue(ctx context.Context, job Job) error {
	data, err := job.Payload.Marshal()
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(job.Queue()),
		asynq.MaxRetry(MaxRetry),
		asynq.Timeout(Timeout(job.Pool())),
		asynq.Retention(retention),
	}
	if job.ID != "" {
		opts = append(opts, asynq.TaskID(job.ID))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(job.Type, data), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			q.log.Debug("duplicate job dropped", zap.String("job_id", job.ID))
			return nil
		}
		return eris.Wrapf(domain.ErrOrchestratorUnavailable, "queue: enqueue %s: %v", job.Type, err)
	}

	q.log.Debug("job enqueued",
		zap.String("task_id", info.ID),
		zap.String("type", job.Type),
		zap.String("queue", info.Queue),
	)
	return nil
}

// Stats returns a snapshot of every leadscope sub-queue known to Redis.
func (q *Asynq) Stats(ctx context.Context) ([]Stats, error) {
	names, err := q.inspector.Queues()
	if err != nil {
		return nil, eris.Wrapf(domain.ErrOrchestratorUnavailable, "queue: list queues: %v", err)
	}

	var out []Stats
	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !ownQueue(name) {
			continue
		}
		info, err := q.inspector.GetQueueInfo(name)
		if err != nil {
			return nil, eris.Wrapf(err, "queue: info for %s", name)
		}
		out = append(out, Stats{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	return out, nil
}

func ownQueue(name string) bool {
	for _, p := range Pools {
		if strings.HasPrefix(name, string(p)+":") {
			return true
		}
	}
	return false
}

// Close releases the Redis connections.
func (q *Asynq) Close() error {
	if err := q.inspector.Close(); err != nil {
		q.log.Warn("close inspector", zap.Error(err))
	}
	return q.client.Close()
}
