package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// Chrome renders pages through chromedp. The browser is started on first
// use and every render opens its own tab.
type Chrome struct {
	headless bool

	once          sync.Once
	startErr      error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChrome creates a chromedp renderer
func NewChrome(headless bool) *Chrome {
	return &Chrome{headless: headless}
}

func (c *Chrome) start() error {
	c.once.Do(func() {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
			append(chromedp.DefaultExecAllocatorOptions[:],
				chromedp.Flag("headless", c.headless),
				chromedp.Flag("disable-gpu", true),
				chromedp.Flag("no-sandbox", true),
				chromedp.Flag("disable-dev-shm-usage", true),
				chromedp.UserAgent(defaultUserAgent),
				chromedp.WindowSize(1366, 900),
			)...,
		)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			c.startErr = eris.Wrap(err, "renderer: start chrome")
			return
		}
		c.allocCancel = allocCancel
		c.browserCtx = browserCtx
		c.browserCancel = browserCancel
	})
	return c.startErr
}

// Render implements Renderer
func (c *Chrome) Render(ctx context.Context, url string, opts Options) (*Page, error) {
	if err := c.start(); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
	defer cancelTimeout()

	// stop the tab when the caller gives up
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, eris.Wrapf(err, "renderer: navigate %s", url)
	}

	out := &Page{}
	if resp != nil {
		out.Status = int(resp.Status)
	}

	actions := []chromedp.Action{chromedp.WaitReady("body")}
	for _, dy := range scrollSteps() {
		actions = append(actions,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil),
			chromedp.Sleep(humanPause(150*time.Millisecond, 600*time.Millisecond)),
		)
	}
	actions = append(actions,
		chromedp.Title(&out.Title),
		chromedp.Location(&out.FinalURL),
		chromedp.OuterHTML("html", &out.HTML),
	)
	if opts.Screenshot {
		actions = append(actions, chromedp.CaptureScreenshot(&out.Screenshot))
	}

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, eris.Wrapf(err, "renderer: render %s", url)
	}
	out.ContentLength = len(out.HTML)

	return out, nil
}

// Close stops the browser
func (c *Chrome) Close() error {
	if c.browserCancel != nil {
		c.browserCancel()
		c.allocCancel()
	}
	return nil
}
