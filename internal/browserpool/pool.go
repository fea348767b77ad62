// Package browserpool implements the browser-pool external collaborator
// described by the fetch layer: a singleton headless engine, lazily
// started, that lends instrumented pages to callers.
package browserpool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// LoginObserver is notified when a borrowed page's own network traffic
// signals a logout: 401/403 or a redirect Location to a login-shaped path. A
// visible password input is found by the caller's own DOM probe and does not
// notify observers.
type LoginObserver func(page *Page)

// Pool lazily starts a single headless engine and lends pages from it. It
// registers process-termination handling via Close.
type Pool struct {
	once    sync.Once
	initErr error

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	userAgent string
	logger    *zap.Logger

	mu        sync.Mutex
	observers []LoginObserver
}

// New constructs a Pool; the engine itself is not started until the first
// Borrow call.
func New(userAgent string, logger *zap.Logger) *Pool {
	return &Pool{userAgent: userAgent, logger: logger}
}

func (p *Pool) ensureStarted() error {
	p.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.UserAgent(p.userAgent),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			allocCancel()
			browserCancel()
			p.initErr = fmt.Errorf("start browser engine: %w", err)
			return
		}
		p.allocCancel = allocCancel
		p.browserCtx = browserCtx
		p.browserCancel = browserCancel
	})
	return p.initErr
}

// OnLogin registers a callback invoked by every borrowed page's response
// listener when a logout signal is observed.
func (p *Pool) OnLogin(fn LoginObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Page wraps a chromedp tab context together with the metadata the fetch
// layer and session manager need.
type Page struct {
	ctx          context.Context
	cancel       context.CancelFunc
	navigatedURL string
	statusCode   int
}

// URL implements model.BrowserPage.
func (pg *Page) URL() string { return pg.navigatedURL }

// StatusCode returns the last top-level document response status observed
// on this page, or 0 if none has been observed yet.
func (pg *Page) StatusCode() int { return pg.statusCode }

// Context returns the chromedp tab context backing this page, so callers in
// other packages can run further chromedp actions against it.
func (pg *Page) Context() context.Context { return pg.ctx }

// Find reports whether selector matches at least one node, satisfying the
// login flow's selector-fallback probe.
func (pg *Page) Find(ctx context.Context, selector string) (bool, error) {
	var count int
	err := chromedp.Run(pg.ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelectorAll(%q).length`, selector), &count,
	))
	if err != nil {
		return false, fmt.Errorf("find %s: %w", selector, err)
	}
	return count > 0, nil
}

// Type focuses selector and enters text one rune at a time, sleeping for
// interKeyDelay(prev) between keystrokes so callers can simulate human
// typing cadence.
func (pg *Page) Type(ctx context.Context, selector, text string, interKeyDelay func(prev rune) time.Duration) error {
	if err := chromedp.Run(pg.ctx, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	var prev rune
	for _, r := range text {
		if err := chromedp.Run(pg.ctx, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("send key to %s: %w", selector, err)
		}
		delay := interKeyDelay(prev)
		prev = r
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Click clicks the first node matching selector.
func (pg *Page) Click(ctx context.Context, selector string) error {
	if err := chromedp.Run(pg.ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// WaitNavigation waits up to timeout for the document to reach readyState
// "complete" after an action that may trigger navigation.
func (pg *Page) WaitNavigation(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var ready string
	for {
		if err := chromedp.Run(pg.ctx, chromedp.Evaluate(`document.readyState`, &ready)); err == nil && ready == "complete" {
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-waitCtx.Done():
			return waitCtx.Err()
		}
	}
}

// Navigate drives this page to rawURL and waits for the body to be ready.
func (pg *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := chromedp.Run(pg.ctx, chromedp.Navigate(rawURL), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return nil
}

// OuterHTML returns the document's current rendered HTML.
func (pg *Page) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(pg.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Context is a disposable handle returned alongside a Page.
type Context struct {
	cancel context.CancelFunc
	closed bool
	mu     sync.Mutex
}

// Close implements model.BrowserContext. Safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return nil
}

// Borrow yields a fresh instrumented page/context pair. The caller owns
// disposal of the returned Context.
func (p *Pool) Borrow(ctx context.Context, cookies []Cookie) (*Page, *Context, error) {
	if err := p.ensureStarted(); err != nil {
		return nil, nil, err
	}
	tabCtx, cancelTab := chromedp.NewContext(p.browserCtx)
	pg := &Page{ctx: tabCtx, cancel: cancelTab}
	pc := &Context{cancel: cancelTab}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		pg.statusCode = int(resp.Response.Status)
		pg.navigatedURL = resp.Response.URL
		if pg.statusCode == 401 || pg.statusCode == 403 {
			p.notifyLogout(pg)
			return
		}
		for k, v := range resp.Response.Headers {
			if strings.EqualFold(k, "location") && matchesLoginRedirect(fmt.Sprint(v)) {
				p.notifyLogout(pg)
				return
			}
		}
	})

	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(c context.Context) error {
		return applyCookies(c, cookies)
	})); err != nil {
		cancelTab()
		return nil, nil, fmt.Errorf("apply cookies: %w", err)
	}

	return pg, pc, nil
}

// WithPage borrows a page, invokes fn, and guarantees release even on panic
// or early return.
func (p *Pool) WithPage(ctx context.Context, cookies []Cookie, fn func(*Page) error) error {
	pg, pc, err := p.Borrow(ctx, cookies)
	if err != nil {
		return err
	}
	defer func() { _ = pc.Close() }()
	return fn(pg)
}

func (p *Pool) notifyLogout(pg *Page) {
	p.mu.Lock()
	observers := append([]LoginObserver(nil), p.observers...)
	p.mu.Unlock()
	for _, obs := range observers {
		obs(pg)
	}
}

var loginPathSubstrings = []string{"/login", "/signin", "/auth", "/sso"}

func matchesLoginRedirect(location string) bool {
	lower := strings.ToLower(location)
	for _, sub := range loginPathSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// Cookie mirrors the persisted cookie shape; see internal/session.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

func applyCookies(ctx context.Context, cookies []Cookie) error {
	for _, c := range cookies {
		expr := network.SetCookie(c.Name, c.Value).WithDomain(c.Domain).WithPath(c.Path)
		if err := expr.Do(ctx); err != nil {
			return fmt.Errorf("set cookie %s: %w", c.Name, err)
		}
	}
	return nil
}

// Close tears down the engine. Registered as a process-termination handler
// by the orchestrator's caller.
func (p *Pool) Close() error {
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	return nil
}

var _ model.BrowserPage = (*Page)(nil)
var _ model.BrowserContext = (*Context)(nil)
