// Package renderer loads business websites in a headless browser for
// Tier 3 confirmation.
package renderer

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sadewadee/leadscope/internal/config"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options tune a single render
type Options struct {
	Timeout    time.Duration
	Screenshot bool
}

// Page is a rendered document
type Page struct {
	Title         string
	HTML          string
	FinalURL      string
	Status        int
	ContentLength int
	Screenshot    []byte
}

// Renderer renders a URL in a real browser
type Renderer interface {
	Render(ctx context.Context, url string, opts Options) (*Page, error)
	Close() error
}

// New returns the renderer selected by cfg.Engine
func New(cfg config.RendererConfig) (Renderer, error) {
	switch cfg.Engine {
	case "", "playwright":
		return NewPlaywright(cfg.Headless)
	case "chromedp":
		return NewChrome(cfg.Headless), nil
	default:
		return nil, eris.Errorf("renderer: unknown engine %q", cfg.Engine)
	}
}

// humanPause returns a randomized delay between min and max
func humanPause(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// scrollSteps returns a few randomized scroll offsets in pixels
func scrollSteps() []int {
	n := 2 + rand.IntN(3)
	steps := make([]int, n)
	for i := range steps {
		steps[i] = 300 + rand.IntN(500)
	}
	return steps
}
