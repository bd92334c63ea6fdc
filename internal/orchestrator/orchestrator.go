// Package orchestrator drives zones and candidates through the queue pools.
// The manager dispatches zones; workers run the acquisition and tier
// handlers registered here. Every handler re-reads persisted state first, so
// a redelivered job resumes from wherever the previous attempt stopped.
package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/coverage"
	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/progress"
	"github.com/sadewadee/leadscope/internal/queue"
	"github.com/sadewadee/leadscope/internal/scraper"
	"github.com/sadewadee/leadscope/internal/verify"
	"github.com/sadewadee/leadscope/tlmt"
	"github.com/sadewadee/leadscope/tlmt/gonoop"
)

// Scraper acquires the candidates of one zone
type Scraper interface {
	Scrape(ctx context.Context, strategy *domain.CoverageStrategy, zone *domain.Zone, sessionID uuid.UUID) (*scraper.Result, error)
}

// Step runs one verification tier on a candidate
type Step interface {
	Run(ctx context.Context, c *domain.Candidate) (*verify.Outcome, error)
}

// StepFunc adapts a function to Step
type StepFunc func(ctx context.Context, c *domain.Candidate) (*verify.Outcome, error)

func (f StepFunc) Run(ctx context.Context, c *domain.Candidate) (*verify.Outcome, error) {
	return f(ctx, c)
}

// Deps wires the orchestrator. Acquisition and tier dependencies may be nil
// in processes that do not run the matching pool.
type Deps struct {
	Coverage   *coverage.Service
	Strategies domain.StrategyRepository
	Sessions   domain.SessionRepository
	Candidates domain.CandidateRepository
	Queue      queue.Dispatcher
	Bus        progress.Bus
	Telemetry  tlmt.Telemetry

	Scraper Scraper
	Probe   Step
	Deep    Step
	Confirm Step
}

// Orchestrator dispatches zones and handles pool jobs
type Orchestrator struct {
	Deps
	log *zap.Logger
}

// New creates an orchestrator
func New(d Deps) *Orchestrator {
	if d.Bus == nil {
		d.Bus = progress.Noop{}
	}
	if d.Telemetry == nil {
		d.Telemetry = gonoop.New()
	}
	return &Orchestrator{
		Deps: d,
		log:  zap.L().With(zap.String("component", "orchestrator")),
	}
}

// Register installs the handlers whose dependencies are present.
func (o *Orchestrator) Register(srv queue.Server) {
	if o.Scraper != nil {
		srv.Handle(queue.TypeZoneAcquire, o.handleAcquire)
	}
	if o.Probe != nil {
		srv.Handle(queue.TypeCandidateProbe, o.tierHandler(domain.TierProbe, o.Probe))
	}
	if o.Deep != nil {
		srv.Handle(queue.TypeCandidateDiscover, o.tierHandler(domain.TierDeep, o.Deep))
	}
	if o.Confirm != nil {
		srv.Handle(queue.TypeCandidateConfirm, o.tierHandler(domain.TierBrowser, o.Confirm))
	}
}

// Dispatch claims the next zone of a strategy and enqueues its acquisition.
// It returns without waiting for the scrape. If the enqueue fails the new
// session is marked failed and the error wraps
// domain.ErrOrchestratorUnavailable; the zone stays eligible.
func (o *Orchestrator) Dispatch(ctx context.Context, strategyID uuid.UUID, priority int) (*domain.ScrapeSession, *domain.Zone, error) {
	session, zone, err := o.Coverage.DispatchNextZone(ctx, strategyID, priority)
	if err != nil {
		return nil, nil, err
	}

	job := queue.NewZoneJob(session.ID, strategyID, zone.ID, session.Priority)
	if err := o.Queue.Enqueue(ctx, job); err != nil {
		if !errors.Is(err, domain.ErrOrchestratorUnavailable) {
			err = eris.Wrapf(domain.ErrOrchestratorUnavailable, "orchestrator: enqueue zone: %v", err)
		}
		o.failSession(context.WithoutCancel(ctx), session.ID, err)
		return nil, nil, err
	}

	o.log.Info("zone dispatched",
		zap.String("strategy_id", strategyID.String()),
		zap.String("zone", zone.Code),
		zap.String("session_id", session.ID.String()),
		zap.Int("priority", session.Priority),
	)
	return session, zone, nil
}

func (o *Orchestrator) publish(ctx context.Context, sessionID uuid.UUID, typ domain.EventType, payload map[string]any) {
	o.Bus.Publish(ctx, domain.NewEvent(sessionID, typ, payload))
}

// failSession marks a session failed and announces it. Strategy counters
// are left alone so the zone can be dispatched again.
func (o *Orchestrator) failSession(ctx context.Context, sessionID uuid.UUID, cause error) {
	reason := domain.ReasonOf(cause)
	applied, err := o.Sessions.Fail(ctx, sessionID, reason)
	if err != nil {
		o.log.Error("mark session failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	o.log.Warn("session failed",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	o.publish(ctx, sessionID, domain.EventScrapeFailed, map[string]any{"reason": reason})
	_ = o.Telemetry.Send(ctx, tlmt.NewEvent(tlmt.EventSessionFinished, map[string]any{
		"state":  string(domain.SessionStateFailed),
		"reason": reason,
	}))
}

// finish completes a session once every scraped candidate is validated and
// folds its counts into the zone. Safe to call repeatedly.
func (o *Orchestrator) finish(ctx context.Context, sessionID uuid.UUID) error {
	applied, err := o.Sessions.Complete(ctx, sessionID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: complete session")
	}

	session, err := o.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: reload session")
	}
	if session == nil || session.State != domain.SessionStateCompleted {
		return nil
	}

	if _, err := o.Coverage.MarkZoneComplete(ctx, session.ZoneID, session.Counts.ZoneCounts()); err != nil {
		return err
	}

	if applied {
		o.log.Info("session completed",
			zap.String("session_id", sessionID.String()),
			zap.Int("scraped", session.Counts.Scraped),
			zap.Int("discovered", session.Counts.Discovered),
		)
		o.publish(ctx, sessionID, domain.EventScrapeComplete, map[string]any{
			"total":      session.Counts.Total,
			"scraped":    session.Counts.Scraped,
			"validated":  session.Counts.Validated,
			"discovered": session.Counts.Discovered,
		})
		_ = o.Telemetry.Send(ctx, tlmt.NewEvent(tlmt.EventSessionFinished, map[string]any{
			"state":      string(domain.SessionStateCompleted),
			"scraped":    session.Counts.Scraped,
			"discovered": session.Counts.Discovered,
		}))
	}
	return nil
}
