package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sadewadee/leadscope/internal/domain"
	"github.com/sadewadee/leadscope/internal/normalize"
	"github.com/sadewadee/leadscope/internal/renderer"
	"github.com/sadewadee/leadscope/internal/resilience"
	"github.com/sadewadee/leadscope/internal/screenshot"
)

// Classifications recorded in RenderResult
const (
	ClassValid   = "valid"
	ClassInvalid = "invalid"
)

// ConfirmConfig tunes Tier 3
type ConfirmConfig struct {
	Timeout          time.Duration
	MinContentLength int
	Screenshot       bool
	Policy           resilience.Policy
}

// Confirmer is Tier 3: render the website and classify what came back
type Confirmer struct {
	candidates domain.CandidateRepository
	renderer   renderer.Renderer
	guard      *renderer.MemoryGuard
	shots      screenshot.Store
	cfg        ConfirmConfig
	log        *zap.Logger
}

// NewConfirmer creates a Confirmer. guard and shots may be nil.
func NewConfirmer(candidates domain.CandidateRepository, r renderer.Renderer, guard *renderer.MemoryGuard, shots screenshot.Store, cfg ConfirmConfig) *Confirmer {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Policy.ShouldRetry == nil {
		// browsers fail in many non-network ways
		cfg.Policy.ShouldRetry = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	return &Confirmer{
		candidates: candidates,
		renderer:   r,
		guard:      guard,
		shots:      shots,
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "confirmer")),
	}
}

// Confirm runs Tier 3 on a browser_queued candidate
func (f *Confirmer) Confirm(ctx context.Context, c *domain.Candidate) (*Outcome, error) {
	if c.Status != domain.StatusBrowserQueued {
		return noop(c), nil
	}
	if !c.HasWebsite() {
		return nil, eris.Errorf("confirm: candidate %s has no website", c.ID)
	}

	if err := f.guard.Wait(ctx); err != nil {
		return nil, err
	}

	url := c.Website()
	result := domain.TierResult{Tier: domain.TierBrowser, URL: url}

	page, err := resilience.DoVal(ctx, f.cfg.Policy, func(ctx context.Context) (*renderer.Page, error) {
		return f.renderer.Render(ctx, url, renderer.Options{Timeout: f.cfg.Timeout, Screenshot: f.cfg.Screenshot})
	})

	kind := domain.EvidenceRenderExhausted
	var reason *string

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := domain.ReasonOf(err)
		result.Outcome = domain.OutcomeError
		result.Error = msg
		reason = &msg
		f.log.Warn("render exhausted", zap.String("candidate_id", c.ID.String()), zap.String("url", url), zap.Error(err))
	} else {
		render, valid := f.classify(c, page)
		if f.cfg.Screenshot && len(page.Screenshot) > 0 && f.shots != nil {
			if key, err := f.shots.Put(ctx, c.ID, page.Screenshot); err != nil {
				f.log.Warn("screenshot upload failed", zap.String("candidate_id", c.ID.String()), zap.Error(err))
			} else {
				render.ScreenshotKey = key
			}
		}
		result.Render = render
		result.StatusCode = page.Status
		if valid {
			kind = domain.EvidenceRenderValid
			result.Outcome = domain.OutcomeRenderValid
		} else {
			kind = domain.EvidenceRenderInvalid
			result.Outcome = domain.OutcomeRenderInvalid
		}
	}
	result.At = time.Now().UTC()

	to, err := domain.Transition(c.Status, domain.Evidence{Kind: kind, Source: c.WebsiteSource})
	if err != nil {
		return nil, err
	}
	if to == domain.StatusNeedsManualReview && reason == nil {
		msg := "render_" + result.Outcome
		reason = &msg
	}

	applied, err := f.candidates.UpdateStatus(ctx, c.ID, domain.StatusUpdate{
		From:   c.Status,
		To:     to,
		Append: []domain.TierResult{result},
		Reason: reason,
	})
	if err != nil {
		return nil, eris.Wrap(err, "confirm: update status")
	}
	if !applied {
		return noop(c), nil
	}

	return &Outcome{Status: to, Applied: true}, nil
}

func (f *Confirmer) classify(c *domain.Candidate, page *renderer.Page) (*domain.RenderResult, bool) {
	render := &domain.RenderResult{
		Title:         page.Title,
		FinalURL:      page.FinalURL,
		StatusCode:    page.Status,
		ContentLength: page.ContentLength,
	}

	ex, err := renderer.Extract(page.HTML)
	if err != nil {
		render.Classification = ClassInvalid
		render.Reason = "unparseable html"
		return render, false
	}
	if render.Title == "" {
		render.Title = ex.Title
	}
	render.Emails = ex.Emails
	render.Phones = ex.Phones
	render.HasEmail = len(ex.Emails) > 0
	render.HasPhone = len(ex.Phones) > 0

	valid, why := Classify(page.Status, page.ContentLength, render.Title, ex.HasContact(), c.Name, f.cfg.MinContentLength)
	render.Reason = why
	render.Classification = ClassInvalid
	if valid {
		render.Classification = ClassValid
	}
	return render, valid
}

var parkedTitles = []string{
	"domain for sale", "this domain", "is for sale", "buy this domain", "parked",
	"coming soon", "under construction", "account suspended", "index of /",
	"default web page", "welcome to nginx", "it works!", "site not found",
	"page not found", "website expired", "godaddy", "hugedomains",
}

// Classify decides whether a rendered page is a live business website.
// A status of 0 means the renderer saw no main response and is not held
// against the page.
func Classify(status, contentLength int, title string, hasContact bool, name string, minContentLength int) (bool, string) {
	if status >= 400 {
		return false, "http status"
	}
	if contentLength < minContentLength {
		return false, "content too short"
	}
	lower := strings.ToLower(title)
	for _, p := range parkedTitles {
		if strings.Contains(lower, p) {
			return false, "placeholder title"
		}
	}
	if hasContact {
		return true, "contact marker"
	}
	if titleMatchesName(title, name) {
		return true, "title matches name"
	}
	return false, "no contact marker or name in title"
}

func titleMatchesName(title, name string) bool {
	words := map[string]bool{}
	for _, w := range normalize.Tokens(title, 3) {
		words[w] = true
	}
	for _, t := range significantTokens(name) {
		if len(t) >= 4 && words[t] {
			return true
		}
	}
	return false
}
