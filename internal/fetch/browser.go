package fetch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/browserpool"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

const (
	navigationTimeout      = 30 * time.Second
	lateRenderSettle       = 1 * time.Second
	networkIdleInterval    = 500 * time.Millisecond
	networkIdleMaxInFlight = 2
)

// BrowserFetcher drives the managed browser pool to acquire fully-rendered
// HTML for pages the light path cannot handle.
type BrowserFetcher struct {
	pool   *browserpool.Pool
	logger *zap.Logger
}

// NewBrowserFetcher wraps a browser pool.
func NewBrowserFetcher(pool *browserpool.Pool, logger *zap.Logger) *BrowserFetcher {
	return &BrowserFetcher{pool: pool, logger: logger}
}

// Fetch navigates a borrowed page to rawURL, waits out a fixed network-idle
// pause (see waitNetworkIdle), performs a brief human-like idle behavior, then captures HTML. The
// returned FetchResult carries the live page/context; the caller disposes
// ContextHandle after downstream validation.
func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string, cookies []browserpool.Cookie, extraSettle time.Duration) (model.FetchResult, error) {
	navCtx, cancel := context.WithTimeout(ctx, navigationTimeout+extraSettle)
	defer cancel()

	pg, pc, err := f.pool.Borrow(navCtx, cookies)
	if err != nil {
		return model.FetchResult{}, fmt.Errorf("borrow page: %w", err)
	}

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitNetworkIdle(),
		chromedp.Sleep(lateRenderSettle + extraSettle),
		idleBehavior(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if runErr := chromedp.Run(pg.Context(), tasks); runErr != nil {
		_ = pc.Close()
		return model.FetchResult{}, fmt.Errorf("browser navigate: %w", runErr)
	}

	status := pg.StatusCode()
	if status == 0 {
		status = 200
	}
	return model.FetchResult{
		Body:          html,
		StatusCode:    status,
		Method:        model.FetchMethodBrowser,
		PageHandle:    pg,
		ContextHandle: pc,
	}, nil
}

// waitNetworkIdle pauses for networkIdleInterval, or returns ctx's error if
// the context ends first. chromedp has no first-class "networkidle" wait, so
// this approximates Puppeteer's semantics with a fixed settle sleep. It does
// not count in-flight requests: networkIdleMaxInFlight is not consulted, and
// the browser pool's response listener tracks no request count either.
func waitNetworkIdle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		select {
		case <-time.After(networkIdleInterval):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// idleBehavior performs 2-4 cursor drifts, an optional gentle scroll, and a
// short pause, to avoid presenting an obviously-automated navigation.
func idleBehavior() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		drifts := 2 + rand.Intn(3) // 2-4
		for i := 0; i < drifts; i++ {
			x, y := float64(50+rand.Intn(800)), float64(50+rand.Intn(500))
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
				return fmt.Errorf("dispatch mouse move: %w", err)
			}
		}
		if rand.Intn(2) == 0 {
			if err := chromedp.Evaluate(`window.scrollBy(0, 120)`, nil).Do(ctx); err != nil {
				return fmt.Errorf("gentle scroll: %w", err)
			}
		}
		pauseMs := 500 + rand.Intn(1000)
		select {
		case <-time.After(time.Duration(pauseMs) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
