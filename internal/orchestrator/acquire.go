package orchestrator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/queue"
)

// handleAcquire scrapes one zone. A queued session moves to scraping, the
// provider results are ingested, the session moves to validating and every
// new candidate gets its probe job. A redelivered job for a session that
// already left scraping only re-enqueues the outstanding probes.
func (o *Orchestrator) handleAcquire(ctx context.Context, job queue.Job) error {
	p := job.Payload
	log := o.log.With(zap.String("session_id", p.SessionID.String()))

	session, err := o.Sessions.GetByID(ctx, p.SessionID)
	if err != nil {
		return eris.Wrap(err, "acquire: load session")
	}
	if session == nil {
		log.Warn("session not found, dropping job")
		return nil
	}
	if session.State.IsTerminal() {
		return nil
	}

	if session.State == domain.SessionStateValidating {
		return o.resumeValidation(ctx, session)
	}

	strategy, err := o.Strategies.GetByID(ctx, session.StrategyID)
	if err != nil {
		return eris.Wrap(err, "acquire: load strategy")
	}
	zone, err := o.Strategies.GetZone(ctx, session.ZoneID)
	if err != nil {
		return eris.Wrap(err, "acquire: load zone")
	}
	if strategy == nil || zone == nil {
		o.failSession(ctx, session.ID, domain.ErrZoneNotFound)
		return nil
	}

	redelivered := session.State == domain.SessionStateScraping
	if !redelivered {
		ok, err := o.Sessions.Transition(ctx, session.ID, domain.SessionStateQueued, domain.SessionStateScraping)
		if err != nil {
			return eris.Wrap(err, "acquire: start session")
		}
		if !ok {
			// someone else moved it; let the next delivery look again
			return nil
		}
		o.publish(ctx, session.ID, domain.EventScrapingStarted, map[string]any{
			"zone_id":   zone.ID.String(),
			"zone_code": zone.Code,
			"zone_name": zone.Name,
		})
	}

	res, err := o.Scraper.Scrape(ctx, strategy, zone, session.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if isProviderFailure(err) || queue.IsLastAttempt(ctx) {
			o.failSession(ctx, session.ID, err)
			return nil
		}
		return err
	}

	for _, w := range res.Warnings {
		if err := o.Sessions.AddWarning(ctx, session.ID, w); err != nil {
			log.Warn("record warning", zap.Error(err))
		}
		o.publish(ctx, session.ID, domain.EventSessionWarning, map[string]any{"warning": w})
	}

	for i, c := range res.Inserted {
		o.publish(ctx, session.ID, domain.EventBusinessScraped, map[string]any{
			"candidate_id": c.ID.String(),
			"name":         c.Name,
			"has_website":  c.HasWebsite(),
			"scraped":      i + 1,
			"total":        res.Total,
		})
	}

	scraped := len(res.Inserted)
	if redelivered {
		// candidates inserted by the earlier attempt count too
		if scraped, err = o.sessionCandidates(ctx, session.ID); err != nil {
			return err
		}
	}

	if _, err := o.Sessions.SetAcquired(ctx, session.ID, res.Total, scraped); err != nil {
		return eris.Wrap(err, "acquire: record totals")
	}

	log.Info("zone acquired",
		zap.String("zone", zone.Code),
		zap.Int("total", res.Total),
		zap.Int("scraped", scraped),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("malformed", res.Malformed),
	)

	if redelivered {
		session.Priority = p.Priority
		return o.resumeValidation(ctx, session)
	}

	for _, c := range res.Inserted {
		if err := o.advance(ctx, c, session.Priority); err != nil {
			return eris.Wrap(err, "acquire: enqueue probe")
		}
	}

	return o.finish(ctx, session.ID)
}

// resumeValidation re-enqueues the next job of every unfinished candidate
// of a session. Duplicate enqueues collapse on their job id.
func (o *Orchestrator) resumeValidation(ctx context.Context, session *domain.ScrapeSession) error {
	const page = 500
	for offset := 0; ; offset += page {
		list, _, err := o.Candidates.List(ctx, domain.CandidateListParams{
			SessionID: &session.ID,
			Limit:     page,
			Offset:    offset,
		})
		if err != nil {
			return eris.Wrap(err, "acquire: list session candidates")
		}
		for _, c := range list {
			if c.Status.IsTerminal() {
				continue
			}
			if err := o.advance(ctx, c, session.Priority); err != nil {
				return err
			}
		}
		if len(list) < page {
			break
		}
	}
	return o.finish(ctx, session.ID)
}

func (o *Orchestrator) sessionCandidates(ctx context.Context, sessionID uuid.UUID) (int, error) {
	_, total, err := o.Candidates.List(ctx, domain.CandidateListParams{SessionID: &sessionID, Limit: 1})
	if err != nil {
		return 0, eris.Wrap(err, "acquire: count session candidates")
	}
	return total, nil
}

// isProviderFailure reports whether the scrape failed on the provider side
// after its own retries, as opposed to an infrastructure error worth
// redelivering.
func isProviderFailure(err error) bool {
	return errors.Is(err, domain.ErrProviderQuotaExceeded) ||
		errors.Is(err, domain.ErrProviderTimeout) ||
		errors.Is(err, domain.ErrMalformedCandidate)
}
