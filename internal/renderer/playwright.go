package renderer

import (
	"context"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Playwright renders pages with a shared Chromium instance
type Playwright struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	log     *zap.Logger
}

// NewPlaywright starts the driver and launches Chromium. Browsers must be
// installed beforehand with `leadscope install-browsers`.
func NewPlaywright(headless bool) (*Playwright, error) {
	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return nil, eris.Wrap(err, "renderer: start playwright")
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args:     []string{"--disable-dev-shm-usage", "--no-sandbox"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, eris.Wrap(err, "renderer: launch chromium")
	}

	return &Playwright{
		pw:      pw,
		browser: browser,
		log:     zap.L().With(zap.String("component", "renderer"), zap.String("engine", "playwright")),
	}, nil
}

// Render implements Renderer
func (p *Playwright) Render(ctx context.Context, url string, opts Options) (*Page, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	p.mu.Lock()
	browser := p.browser
	p.mu.Unlock()
	if browser == nil {
		return nil, eris.New("renderer: closed")
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(defaultUserAgent),
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, eris.Wrap(err, "renderer: new context")
	}
	defer bctx.Close()

	page, err := bctx.NewPage()
	if err != nil {
		return nil, eris.Wrap(err, "renderer: new page")
	}

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "renderer: goto %s", url)
	}

	out := &Page{}
	if resp != nil {
		out.Status = resp.Status()
	}

	for _, dy := range scrollSteps() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "renderer: render")
		}
		_ = page.Mouse().Wheel(0, float64(dy))
		page.WaitForTimeout(float64(humanPause(150*time.Millisecond, 600*time.Millisecond).Milliseconds()))
	}

	if out.Title, err = page.Title(); err != nil {
		return nil, eris.Wrap(err, "renderer: title")
	}
	if out.HTML, err = page.Content(); err != nil {
		return nil, eris.Wrap(err, "renderer: content")
	}
	out.FinalURL = page.URL()
	out.ContentLength = len(out.HTML)

	if opts.Screenshot {
		png, err := page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(false)})
		if err != nil {
			p.log.Debug("screenshot failed", zap.String("url", url), zap.Error(err))
		} else {
			out.Screenshot = png
		}
	}

	return out, nil
}

// Close shuts the browser and the driver down
func (p *Playwright) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	if stopErr := p.pw.Stop(); err == nil {
		err = stopErr
	}
	return eris.Wrap(err, "renderer: close")
}
