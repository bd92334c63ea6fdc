// Package verify runs the three verification tiers of a candidate: a fast
// reachability probe, a search-backed deep verification and a browser
// confirmation. Each tier reads the persisted candidate, records evidence
// and applies one guarded status transition.
package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/provider/evidence"
)

// Outcome reports what a tier step did
type Outcome struct {
	// Status is the candidate status after the step
	Status domain.VerificationStatus
	// Applied is false when the step found nothing to do
	Applied bool
	// Next is the tier to enqueue, zero when none
	Next domain.Tier
}

func noop(c *domain.Candidate) *Outcome {
	return &Outcome{Status: c.Status}
}

// Apply moves a candidate along one edge of the state machine with no new
// evidence. Returns false when the stored status is no longer from.
func Apply(ctx context.Context, repo domain.CandidateRepository, id uuid.UUID, from domain.VerificationStatus, ev domain.Evidence) (bool, error) {
	to, err := domain.Transition(from, ev)
	if err != nil {
		return false, err
	}
	return repo.UpdateStatus(ctx, id, domain.StatusUpdate{From: from, To: to})
}

// Unresolve marks a candidate unresolved with a reason unless it already
// reached a terminal status. It retries when a concurrent writer moves the
// candidate between read and write.
func Unresolve(ctx context.Context, repo domain.CandidateRepository, id uuid.UUID, tier domain.Tier, reason string) (bool, error) {
	for i := 0; i < 3; i++ {
		c, err := repo.GetByID(ctx, id)
		if err != nil {
			return false, err
		}
		if c == nil {
			return false, domain.ErrCandidateNotFound
		}
		if c.Status.IsTerminal() {
			return false, nil
		}

		to, err := domain.Transition(c.Status, domain.Evidence{Kind: domain.EvidenceRetriesExhausted})
		if err != nil {
			return false, err
		}

		applied, err := repo.UpdateStatus(ctx, id, domain.StatusUpdate{
			From: c.Status,
			To:   to,
			Append: []domain.TierResult{{
				Tier:    tier,
				Outcome: domain.OutcomeError,
				At:      time.Now().UTC(),
				Error:   reason,
			}},
			Reason: &reason,
		})
		if err != nil || applied {
			return applied, err
		}
	}
	return false, eris.Wrapf(domain.ErrStaleWrite, "verify: unresolve %s", id)
}

// FactsOf extracts the facts used for matching from a candidate
func FactsOf(c *domain.Candidate) evidence.Facts {
	return evidence.Facts{
		Name:     c.Name,
		Phone:    c.Phone,
		Address:  c.Address,
		Locality: c.Locality,
		Category: c.Category,
	}
}

// QueryFor builds the web-search query of a candidate
func QueryFor(c *domain.Candidate) string {
	q := c.Name
	if c.Locality != "" {
		q += " " + c.Locality
	}
	return q
}
