package heartbeat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/progress"
	"github.com/sadewadee/leadscope/internal/verify"
)

// ZoneCompleter folds a completed session's counts into its zone
type ZoneCompleter interface {
	MarkZoneComplete(ctx context.Context, zoneID uuid.UUID, counts domain.ZoneCounts) (bool, error)
}

// Monitor marks silent workers offline, fails sessions that stopped making
// progress and reconciles completed sessions whose zone was never marked.
// A stalled validating session is settled instead of failed: candidates
// that lost their job become unresolved and the session completes.
type Monitor struct {
	workers    domain.WorkerRepository
	sessions   domain.SessionRepository
	candidates domain.CandidateRepository
	zones      ZoneCompleter
	bus        progress.Bus

	interval      time.Duration
	staleAfter    time.Duration
	workerTimeout time.Duration

	now func() time.Time
	log *zap.Logger
}

// NewMonitor creates a new heartbeat monitor
func NewMonitor(workers domain.WorkerRepository, sessions domain.SessionRepository, candidates domain.CandidateRepository, zones ZoneCompleter, bus progress.Bus, interval, staleAfter time.Duration) *Monitor {
	if interval == 0 {
		interval = domain.HeartbeatInterval
	}
	if staleAfter == 0 {
		staleAfter = domain.SessionStaleAfter
	}
	if bus == nil {
		bus = progress.Noop{}
	}

	return &Monitor{
		workers:       workers,
		sessions:      sessions,
		candidates:    candidates,
		zones:         zones,
		bus:           bus,
		interval:      interval,
		staleAfter:    staleAfter,
		workerTimeout: domain.HeartbeatTimeout,
		now:           time.Now,
		log:           zap.L().With(zap.String("component", "heartbeat")),
	}
}

// Run starts the heartbeat monitor
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("heartbeat monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("worker_timeout", m.workerTimeout),
		zap.Duration("stale_after", m.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Result summarises one monitor pass
type Result struct {
	WorkersOffline  int
	SessionsFailed  int
	SessionsSettled int
	Reconciled      int
}

// Check runs one pass. Errors are logged; each step runs regardless of the
// others.
func (m *Monitor) Check(ctx context.Context) Result {
	var res Result

	if m.workers != nil {
		n, err := m.workers.MarkOffline(ctx, m.workerTimeout)
		if err != nil {
			m.log.Warn("mark offline workers", zap.Error(err))
		} else if n > 0 {
			m.log.Info("workers marked offline", zap.Int("count", n))
		}
		res.WorkersOffline = n
	}

	res.SessionsFailed, res.SessionsSettled = m.failStale(ctx)
	res.Reconciled = m.reconcile(ctx)
	return res
}

// failStale fails sessions stuck in queued or scraping. The acquisition job
// was lost; the zone becomes eligible again. Stalled validating sessions
// are settled.
func (m *Monitor) failStale(ctx context.Context) (failed, settled int) {
	cutoff := m.now().Add(-m.staleAfter)
	stale, err := m.sessions.ListStale(ctx, cutoff)
	if err != nil {
		m.log.Warn("list stale sessions", zap.Error(err))
		return 0, 0
	}

	reason := domain.ReasonOf(domain.ErrOrchestratorUnavailable)
	for _, s := range stale {
		if s.State == domain.SessionStateValidating {
			if m.settle(ctx, s, cutoff) {
				settled++
			}
			continue
		}

		ok, err := m.sessions.Fail(ctx, s.ID, reason)
		if err != nil {
			m.log.Warn("fail stale session", zap.String("session_id", s.ID.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		failed++
		m.log.Warn("stale session failed",
			zap.String("session_id", s.ID.String()),
			zap.String("state", string(s.State)),
			zap.Time("updated_at", s.UpdatedAt),
		)
		m.bus.Publish(ctx, domain.NewEvent(s.ID, domain.EventScrapeFailed, map[string]any{"reason": reason}))
	}
	return failed, settled
}

// settle unresolves the candidates of a validating session that have not
// moved since cutoff and completes the session once none is left in
// flight. Candidates updated after cutoff still have a live job.
func (m *Monitor) settle(ctx context.Context, s *domain.ScrapeSession, cutoff time.Time) bool {
	if m.candidates == nil {
		return false
	}
	log := m.log.With(zap.String("session_id", s.ID.String()))
	reason := domain.ReasonOf(domain.ErrOrchestratorUnavailable)

	const page = 500
	live := 0
	for offset := 0; ; offset += page {
		list, _, err := m.candidates.List(ctx, domain.CandidateListParams{
			SessionID: &s.ID,
			Limit:     page,
			Offset:    offset,
		})
		if err != nil {
			log.Warn("list session candidates", zap.Error(err))
			return false
		}
		for _, c := range list {
			if c.Status.IsTerminal() {
				continue
			}
			if c.UpdatedAt.After(cutoff) {
				live++
				continue
			}
			tier := c.Status.OwnerTier()
			if tier == 0 {
				tier = domain.TierBrowser
			}
			if _, err := verify.Unresolve(ctx, m.candidates, c.ID, tier, reason); err != nil {
				log.Warn("unresolve stalled candidate", zap.String("candidate_id", c.ID.String()), zap.Error(err))
				live++
			}
		}
		if len(list) < page {
			break
		}
	}
	if live > 0 {
		return false
	}

	ok, err := m.sessions.Complete(ctx, s.ID)
	if err != nil {
		log.Warn("complete stalled session", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	done, err := m.sessions.GetByID(ctx, s.ID)
	if err != nil || done == nil {
		return true
	}
	log.Warn("stalled session settled",
		zap.Int("validated", done.Counts.Validated),
		zap.Int("scraped", done.Counts.Scraped),
	)
	m.bus.Publish(ctx, domain.NewEvent(s.ID, domain.EventScrapeComplete, map[string]any{
		"total":      done.Counts.Total,
		"scraped":    done.Counts.Scraped,
		"validated":  done.Counts.Validated,
		"discovered": done.Counts.Discovered,
	}))
	return true
}

func (m *Monitor) reconcile(ctx context.Context) int {
	if m.zones == nil {
		return 0
	}

	sessions, err := m.sessions.ListUnreconciled(ctx, 100)
	if err != nil {
		m.log.Warn("list unreconciled sessions", zap.Error(err))
		return 0
	}

	n := 0
	for _, s := range sessions {
		ok, err := m.zones.MarkZoneComplete(ctx, s.ZoneID, s.Counts.ZoneCounts())
		if err != nil {
			m.log.Warn("reconcile zone", zap.String("zone_id", s.ZoneID.String()), zap.Error(err))
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		m.log.Info("zones reconciled", zap.Int("count", n))
	}
	return n
}
