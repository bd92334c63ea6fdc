package verify

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/resilience"
)

const probeUserAgent = "Mozilla/5.0 (compatible; leadscope/1.0)"

// Prober is Tier 1: a bounded reachability check of the provider URL
type Prober struct {
	candidates domain.CandidateRepository
	http       *http.Client
	policy     resilience.Policy
	log        *zap.Logger
}

// NewProber creates a Prober with the given per-request timeout
func NewProber(candidates domain.CandidateRepository, timeout time.Duration, policy resilience.Policy) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		candidates: candidates,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		policy: policy,
		log:    zap.L().With(zap.String("component", "prober")),
	}
}

// Probe returns the status code of url. HEAD is tried first and GET is used
// when the server rejects HEAD.
func (p *Prober) Probe(ctx context.Context, url string) (int, error) {
	return resilience.DoVal(ctx, p.policy, func(ctx context.Context) (int, error) {
		status, err := p.do(ctx, http.MethodHead, url)
		if err == nil && !headRejected(status) {
			return status, nil
		}
		return p.do(ctx, http.MethodGet, url)
	})
}

func headRejected(status int) bool {
	switch status {
	case http.StatusMethodNotAllowed, http.StatusForbidden, http.StatusNotImplemented, http.StatusNotFound:
		return true
	}
	return false
}

func (p *Prober) do(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, eris.Wrap(err, "probe: build request")
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, resilience.ClassifyTransport("probe", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}

// Check runs Tier 1 on an unverified candidate
func (p *Prober) Check(ctx context.Context, c *domain.Candidate) (*Outcome, error) {
	if c.Status != domain.StatusUnverified {
		return noop(c), nil
	}

	result := domain.TierResult{Tier: domain.TierProbe, At: time.Now().UTC()}
	kind := domain.EvidenceProbeFailed

	if !c.HasWebsite() {
		result.Outcome = domain.OutcomeNoWebsite
	} else {
		result.URL = c.Website()
		status, err := p.Probe(ctx, result.URL)
		result.StatusCode = status
		switch {
		case err != nil:
			result.Outcome = domain.OutcomeProbeFail
			result.Error = domain.ReasonOf(err)
		case status < http.StatusBadRequest:
			result.Outcome = domain.OutcomeProbeOK
			kind = domain.EvidenceProbePassed
		default:
			result.Outcome = domain.OutcomeProbeFail
		}
	}

	to, err := domain.Transition(c.Status, domain.Evidence{Kind: kind})
	if err != nil {
		return nil, err
	}

	applied, err := p.candidates.UpdateStatus(ctx, c.ID, domain.StatusUpdate{
		From:   c.Status,
		To:     to,
		Append: []domain.TierResult{result},
	})
	if err != nil {
		return nil, eris.Wrap(err, "probe: update status")
	}
	if !applied {
		return &Outcome{Status: c.Status}, nil
	}

	p.log.Debug("probed",
		zap.String("candidate_id", c.ID.String()),
		zap.String("url", result.URL),
		zap.String("outcome", result.Outcome),
		zap.Int("status_code", result.StatusCode),
	)

	next := domain.TierDeep
	if to == domain.StatusHTTPCheckedOK {
		next = domain.TierBrowser
	}
	return &Outcome{Status: to, Applied: true, Next: next}, nil
}
