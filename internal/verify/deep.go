package verify

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/normalize"
	"github.com/sadewadee/leadscope/internal/provider/evidence"
	"github.com/sadewadee/leadscope/internal/provider/websearch"
	"github.com/sadewadee/leadscope/internal/ratelimit"
	"github.com/sadewadee/leadscope/internal/resilience"
)

// DeepConfig tunes Tier 2
type DeepConfig struct {
	SearchTimeout       time.Duration
	OracleMaxConfidence float64
	Policy              resilience.Policy
}

// DeepVerifier is Tier 2: one throttled web search, heuristic scoring and
// an optional oracle for weak-signal ties.
type DeepVerifier struct {
	candidates domain.CandidateRepository
	search     websearch.Client
	limiter    ratelimit.Limiter
	scorer     *Scorer
	oracle     evidence.Scorer
	cfg        DeepConfig
	log        *zap.Logger
}

// NewDeepVerifier creates a DeepVerifier. oracle may be nil. The limiter is
// shared by every discovery worker of the process.
func NewDeepVerifier(candidates domain.CandidateRepository, search websearch.Client, limiter ratelimit.Limiter, scorer *Scorer, oracle evidence.Scorer, cfg DeepConfig) *DeepVerifier {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 15 * time.Second
	}
	if cfg.OracleMaxConfidence <= 0 || cfg.OracleMaxConfidence >= strongCeiling {
		cfg.OracleMaxConfidence = 0.85
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &DeepVerifier{
		candidates: candidates,
		search:     search,
		limiter:    limiter,
		scorer:     scorer,
		oracle:     oracle,
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "deep_verifier")),
	}
}

// Verify runs Tier 2. A candidate whose probe failed is first moved to
// deep_verifying. Search results are persisted before any decision, and a
// replay re-scores them without searching again.
func (d *DeepVerifier) Verify(ctx context.Context, c *domain.Candidate) (*Outcome, error) {
	if c.Status == domain.StatusHTTPCheckedFail {
		applied, err := Apply(ctx, d.candidates, c.ID, c.Status, domain.Evidence{Kind: domain.EvidenceDeepStarted})
		if err != nil {
			return nil, eris.Wrap(err, "deep: start")
		}
		if !applied {
			return noop(c), nil
		}
		c.Status = domain.StatusDeepVerifying
	}
	if c.Status != domain.StatusDeepVerifying {
		return noop(c), nil
	}

	results, recorded := c.RecordedSearch()
	if !recorded {
		query := QueryFor(c)
		found, err := d.searchOnce(ctx, query)
		if err != nil {
			return d.exhausted(ctx, c, err)
		}
		results = found

		ok, err := d.candidates.AppendEvidence(ctx, c.ID, domain.StatusDeepVerifying, domain.TierResult{
			Tier:          domain.TierDeep,
			Outcome:       domain.OutcomeSearchRecorded,
			At:            time.Now().UTC(),
			SearchQuery:   query,
			SearchResults: results,
		})
		if err != nil {
			return nil, eris.Wrap(err, "deep: record search")
		}
		if !ok {
			return noop(c), nil
		}
	}

	decision := d.scorer.Score(FactsOf(c), results)
	result := domain.TierResult{
		Tier:      domain.TierDeep,
		At:        time.Now().UTC(),
		Rationale: decision.Rationale,
	}

	var best *Scored
	if decision.Best != nil {
		best = decision.Best
		result.Signals = best.Signals
	} else if decision.Weak && d.oracle != nil {
		if v := d.consultOracle(ctx, c, results); v != nil {
			best = v
			result.Oracle = true
			result.Signals = v.Signals
			result.Rationale = decision.Rationale + "; oracle: " + v.Rationale
		}
	}

	update := domain.StatusUpdate{From: domain.StatusDeepVerifying}
	kind := domain.EvidenceSearchMissing

	if best != nil {
		kind = domain.EvidenceSearchFound
		result.Outcome = domain.OutcomeFound
		result.URL = best.URL
		result.Confidence = best.Confidence
		update.WebsiteURL = &best.URL
		update.WebsiteSource = domain.WebsiteSourceSearch
		update.Confidence = &best.Confidence
	} else {
		result.Outcome = domain.OutcomeMissing
		if w := decision.TopWeak(); w != nil {
			// VerificationInconclusive: weak evidence only
			update.LowConfidence = true
			result.Confidence = w.Confidence
			result.Signals = w.Signals
			update.Confidence = &w.Confidence
			result.Error = domain.ErrVerificationInconclusive.Error()
		}
	}

	to, err := domain.Transition(domain.StatusDeepVerifying, domain.Evidence{Kind: kind})
	if err != nil {
		return nil, err
	}
	update.To = to
	update.Append = []domain.TierResult{result}

	applied, err := d.candidates.UpdateStatus(ctx, c.ID, update)
	if err != nil {
		return nil, eris.Wrap(err, "deep: update status")
	}
	if !applied {
		return noop(c), nil
	}

	d.log.Debug("deep verified",
		zap.String("candidate_id", c.ID.String()),
		zap.String("status", string(to)),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("oracle", result.Oracle),
	)

	out := &Outcome{Status: to, Applied: true}
	if to == domain.StatusDeepVerifiedFound {
		out.Next = domain.TierBrowser
	}
	return out, nil
}

func (d *DeepVerifier) searchOnce(ctx context.Context, query string) ([]domain.SearchResult, error) {
	return resilience.DoVal(ctx, d.cfg.Policy, func(ctx context.Context) ([]domain.SearchResult, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.SearchTimeout)
		defer cancel()

		hits, err := d.search.Search(callCtx, query)
		if err != nil {
			return nil, err
		}
		out := make([]domain.SearchResult, 0, len(hits))
		for _, h := range hits {
			out = append(out, domain.SearchResult{Title: h.Title, URL: h.URL, Snippet: h.Snippet})
		}
		return out, nil
	})
}

// consultOracle returns the oracle's pick when it names one of the results
// with enough confidence. Its confidence is capped below the strong band
// ceiling.
func (d *DeepVerifier) consultOracle(ctx context.Context, c *domain.Candidate, results []domain.SearchResult) *Scored {
	verdict, err := resilience.DoVal(ctx, d.cfg.Policy, func(ctx context.Context) (*evidence.Verdict, error) {
		return d.oracle.Score(ctx, FactsOf(c), results)
	})
	if err != nil {
		d.log.Warn("oracle unavailable", zap.String("candidate_id", c.ID.String()), zap.Error(err))
		return nil
	}
	if verdict == nil || verdict.BestURL == "" {
		return nil
	}
	if !hasStrongSignal(verdict.Signals) {
		d.log.Debug("oracle verdict without phone or address signal",
			zap.String("candidate_id", c.ID.String()), zap.Strings("signals", verdict.Signals))
		return nil
	}

	conf := math.Min(verdict.Confidence, d.cfg.OracleMaxConfidence)
	if conf < d.scorer.MinConfidence() {
		return nil
	}

	for _, r := range results {
		if r.URL != verdict.BestURL {
			continue
		}
		sc := Scored{Result: r, URL: r.URL, Confidence: conf}
		if u, ok := normalize.URL(r.URL); ok {
			sc.URL = u
		}
		for _, s := range verdict.Signals {
			sc.Signals = append(sc.Signals, domain.Signal{Kind: domain.SignalKind(s), URL: sc.URL, Weight: conf})
		}
		sc.Rationale = verdict.Rationale
		return &sc
	}
	return nil
}

// hasStrongSignal reports whether an oracle verdict cites a phone or address match
func hasStrongSignal(signals []string) bool {
	for _, s := range signals {
		switch domain.SignalKind(strings.TrimSpace(strings.ToLower(s))) {
		case domain.SignalPhone, domain.SignalAddress:
			return true
		}
	}
	return false
}

// exhausted records a failed search and marks the candidate unresolved
func (d *DeepVerifier) exhausted(ctx context.Context, c *domain.Candidate, cause error) (*Outcome, error) {
	if errors.Is(cause, context.Canceled) {
		return nil, cause
	}
	reason := domain.ReasonOf(cause)
	d.log.Warn("search exhausted", zap.String("candidate_id", c.ID.String()), zap.String("reason", reason))

	applied, err := Unresolve(ctx, d.candidates, c.ID, domain.TierDeep, reason)
	if err != nil {
		return nil, eris.Wrap(err, "deep: unresolve")
	}
	return &Outcome{Status: domain.StatusUnresolved, Applied: applied}, nil
}
