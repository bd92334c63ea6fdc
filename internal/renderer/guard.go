package renderer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// MemoryGuard holds new renders back while system memory use is above a
// ceiling. A zero ceiling disables it.
type MemoryGuard struct {
	maxPercent float64
	interval   time.Duration
	usage      func(ctx context.Context) (float64, error)
	log        *zap.Logger
}

// NewMemoryGuard creates a guard polling every interval
func NewMemoryGuard(maxPercent float64, interval time.Duration) *MemoryGuard {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &MemoryGuard{
		maxPercent: maxPercent,
		interval:   interval,
		usage:      virtualMemoryPercent,
		log:        zap.L().With(zap.String("component", "memory_guard")),
	}
}

func virtualMemoryPercent(ctx context.Context) (float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// Wait returns once memory use is under the ceiling
func (g *MemoryGuard) Wait(ctx context.Context) error {
	if g == nil || g.maxPercent <= 0 {
		return nil
	}

	logged := false
	for {
		used, err := g.usage(ctx)
		if err != nil {
			// can't measure, don't block
			g.log.Debug("memory probe failed", zap.Error(err))
			return nil
		}
		if used < g.maxPercent {
			return nil
		}
		if !logged {
			g.log.Warn("memory above ceiling, delaying render",
				zap.Float64("used_percent", used),
				zap.Float64("max_percent", g.maxPercent),
			)
			logged = true
		}

		t := time.NewTimer(g.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return eris.Wrap(ctx.Err(), "renderer: memory guard")
		case <-t.C:
		}
	}
}
