package orchestrator

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/queue"
	"github.com/sadewadee/leadscope/internal/verify"
)

func taskFor(t domain.Tier) string {
	switch t {
	case domain.TierProbe:
		return queue.TypeCandidateProbe
	case domain.TierDeep:
		return queue.TypeCandidateDiscover
	default:
		return queue.TypeCandidateConfirm
	}
}

// tierHandler runs step for candidates whose status belongs to tier and
// hands every other non-terminal candidate to the job that owns it.
func (o *Orchestrator) tierHandler(tier domain.Tier, step Step) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		p := job.Payload
		c, err := o.Candidates.GetByID(ctx, p.CandidateID)
		if err != nil {
			return eris.Wrap(err, "tier: load candidate")
		}
		if c == nil {
			o.log.Warn("candidate not found, dropping job", zap.String("candidate_id", p.CandidateID.String()))
			return nil
		}

		if c.Status.IsTerminal() {
			return o.candidateDone(ctx, c)
		}
		if c.Status.OwnerTier() != tier {
			return o.advance(ctx, c, p.Priority)
		}

		out, err := step.Run(ctx, c)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			o.countAttempt(ctx, c)
			if !queue.IsLastAttempt(ctx) {
				return err
			}
			o.log.Warn("tier retries exhausted",
				zap.String("candidate_id", c.ID.String()),
				zap.Int("tier", int(tier)),
				zap.Error(err),
			)
			if _, uerr := verify.Unresolve(ctx, o.Candidates, c.ID, tier, domain.ReasonOf(err)); uerr != nil {
				return eris.Wrap(uerr, "tier: mark unresolved")
			}
			return o.reload(ctx, c, p.Priority)
		}

		if !out.Applied {
			// a concurrent writer moved the candidate
			return o.reload(ctx, c, p.Priority)
		}

		c.Status = out.Status
		return o.advance(ctx, c, p.Priority)
	}
}

func (o *Orchestrator) reload(ctx context.Context, c *domain.Candidate, priority int) error {
	fresh, err := o.Candidates.GetByID(ctx, c.ID)
	if err != nil {
		return eris.Wrap(err, "tier: reload candidate")
	}
	if fresh == nil {
		return nil
	}
	return o.advance(ctx, fresh, priority)
}

// countAttempt records a failed tier attempt on the candidate
func (o *Orchestrator) countAttempt(ctx context.Context, c *domain.Candidate) {
	n, err := o.Candidates.IncrementAttempts(ctx, c.ID)
	if err != nil {
		o.log.Warn("count attempt", zap.String("candidate_id", c.ID.String()), zap.Error(err))
		return
	}
	c.Attempts = n
}

// advance enqueues whatever comes next for a candidate given its current
// status. A candidate cleared for the browser is marked browser_queued
// before its confirmation job is enqueued. When the enqueue fails on the
// job's last attempt the candidate becomes unresolved, since nothing would
// ever pick it up again.
func (o *Orchestrator) advance(ctx context.Context, c *domain.Candidate, priority int) error {
	switch c.Status {
	case domain.StatusHTTPCheckedOK, domain.StatusDeepVerifiedFound:
		applied, err := verify.Apply(ctx, o.Candidates, c.ID, c.Status, domain.Evidence{Kind: domain.EvidenceBrowserEnqueued})
		if err != nil {
			return eris.Wrap(err, "tier: mark browser queued")
		}
		if !applied {
			return o.reload(ctx, c, priority)
		}
		c.Status = domain.StatusBrowserQueued
	}

	if c.Status.IsTerminal() {
		return o.candidateDone(ctx, c)
	}

	next := c.Status.OwnerTier()
	if next == 0 {
		return eris.Errorf("tier: no tier owns status %s", c.Status)
	}
	err := o.Queue.Enqueue(ctx, queue.NewCandidateJob(taskFor(next), c.ID, c.SessionID, priority))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || !queue.IsLastAttempt(ctx) {
		return eris.Wrapf(err, "tier: enqueue tier %d", next)
	}

	o.log.Warn("tier enqueue failed, giving up on candidate",
		zap.String("candidate_id", c.ID.String()),
		zap.Int("tier", int(next)),
		zap.Error(err),
	)
	reason := domain.ReasonOf(domain.ErrOrchestratorUnavailable)
	applied, uerr := verify.Unresolve(ctx, o.Candidates, c.ID, next, reason)
	if uerr != nil {
		return eris.Wrap(uerr, "tier: mark unresolved")
	}
	if !applied {
		// another writer finished it first
		return o.reload(ctx, c, priority)
	}
	c.Status = domain.StatusUnresolved
	return o.candidateDone(ctx, c)
}

// candidateDone reports progress for a terminal candidate and completes the
// session when it was the last one.
func (o *Orchestrator) candidateDone(ctx context.Context, c *domain.Candidate) error {
	session, err := o.Sessions.GetByID(ctx, c.SessionID)
	if err != nil {
		return eris.Wrap(err, "tier: load session")
	}
	if session == nil {
		return nil
	}

	o.publish(ctx, session.ID, domain.EventValidationProgress, map[string]any{
		"candidate_id": c.ID.String(),
		"status":       string(c.Status),
		"validated":    session.Counts.Validated,
		"scraped":      session.Counts.Scraped,
		"discovered":   session.Counts.Discovered,
		"percentage":   session.Counts.Percentage(),
	})

	if session.State != domain.SessionStateValidating && session.State != domain.SessionStateCompleted {
		return nil
	}
	return o.finish(ctx, session.ID)
}
