package heartbeat

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
)

// HostStats samples CPU and memory use in percent
type HostStats func(ctx context.Context) (cpuPercent, memPercent float64)

// SystemStats reads host usage through gopsutil. Failures report zero.
func SystemStats(ctx context.Context) (float64, float64) {
	var cpuPct, memPct float64
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		cpuPct = p[0]
	}
	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memPct = v.UsedPercent
	}
	return cpuPct, memPct
}

// Beater registers a worker process and keeps its heartbeat fresh
type Beater struct {
	repo     domain.WorkerRepository
	worker   domain.Worker
	interval time.Duration
	stats    HostStats
	log      *zap.Logger
}

// NewBeater creates a beater for a worker serving the given pools
func NewBeater(repo domain.WorkerRepository, id string, concurrency map[string]int, interval time.Duration) *Beater {
	if interval == 0 {
		interval = domain.HeartbeatInterval
	}
	hostname, _ := os.Hostname()
	if id == "" {
		id = hostname
	}

	pools := make([]string, 0, len(concurrency))
	for p := range concurrency {
		pools = append(pools, p)
	}

	return &Beater{
		repo: repo,
		worker: domain.Worker{
			ID:          id,
			Hostname:    hostname,
			Pools:       pools,
			Concurrency: concurrency,
		},
		interval: interval,
		stats:    SystemStats,
		log:      zap.L().With(zap.String("component", "heartbeat"), zap.String("worker_id", id)),
	}
}

// Run beats until ctx is cancelled, then records the worker offline
func (b *Beater) Run(ctx context.Context) error {
	if err := b.Beat(ctx, domain.WorkerStatusOnline); err != nil {
		return err
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := b.Beat(stopCtx, domain.WorkerStatusOffline); err != nil {
				b.log.Warn("final heartbeat", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := b.Beat(ctx, domain.WorkerStatusOnline); err != nil {
				b.log.Warn("heartbeat", zap.Error(err))
			}
		}
	}
}

// Beat upserts the worker row once
func (b *Beater) Beat(ctx context.Context, status domain.WorkerStatus) error {
	w := b.worker
	w.Status = status
	w.CPUPercent, w.MemoryPercent = b.stats(ctx)
	return b.repo.Upsert(ctx, &w)
}
