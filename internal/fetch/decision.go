package fetch

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/browserpool"
	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/metrics"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

var (
	timeLikeRe = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(am|pm)\b|\b\d{1,2}:\d{2}\b`)
	dayNameRe  = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// Options parameterizes a single fetch call. ForceBrowser and ExtraSettle are
// the knobs the orchestrator's single retry mutates based on a validator
// retry hint.
type Options struct {
	ForceBrowser bool
	ExtraSettle  time.Duration
	CookieHeader string
	Cookies      []browserpool.Cookie
}

// ComplianceGate is the narrow slice of the compliance gate the fetch layer
// needs: a robots check and the page limiter wait, both run before every
// fetch regardless of which path is ultimately taken.
type ComplianceGate interface {
	IsAllowed(ctx context.Context, rawURL string) bool
	WaitPage(ctx context.Context, rawURL string) error
}

// Layer implements the fetch layer's light-vs-browser decision rule.
type Layer struct {
	light      *LightFetcher
	browser    *BrowserFetcher
	compliance ComplianceGate
	logger     *zap.Logger
}

// New builds a Layer from its two paths and the compliance gate every fetch
// must pass through first.
func New(light *LightFetcher, browser *BrowserFetcher, complianceGate ComplianceGate, logger *zap.Logger) *Layer {
	return &Layer{light: light, browser: browser, compliance: complianceGate, logger: logger}
}

// Fetch runs the compliance preflight (robots check, page-limiter wait),
// then applies the decision rule: unless forced, try light first; accept it
// only if the body contains both a time-like and a day-name token; a 402
// short-circuits without falling back; any other light failure or rejection
// falls back to the browser path.
func (l *Layer) Fetch(ctx context.Context, rawURL string, opts Options) (model.FetchResult, error) {
	if !l.compliance.IsAllowed(ctx, rawURL) {
		return model.FetchResult{}, fmt.Errorf("disallowed by robots policy: %s", rawURL)
	}
	if err := l.compliance.WaitPage(ctx, rawURL); err != nil {
		return model.FetchResult{}, fmt.Errorf("page rate limit wait: %w", err)
	}

	start := time.Now()

	if opts.ForceBrowser {
		result, err := l.browser.Fetch(ctx, rawURL, opts.Cookies, opts.ExtraSettle)
		l.observe(string(model.FetchMethodBrowser), err, time.Since(start))
		return result, err
	}

	lightResult, err := l.light.Fetch(ctx, rawURL, opts.CookieHeader)
	if err != nil {
		l.logger.Debug("light fetch failed; falling back to browser", zap.String("url", rawURL), zap.Error(err))
		result, berr := l.browser.Fetch(ctx, rawURL, opts.Cookies, opts.ExtraSettle)
		l.observe(string(model.FetchMethodBrowser), berr, time.Since(start))
		return result, berr
	}
	if compliance.IsPaywall(lightResult.StatusCode) {
		l.observe(string(model.FetchMethodLight), nil, time.Since(start))
		return lightResult, nil
	}
	if lightResult.StatusCode == 200 && looksLikeSchedule(lightResult.Body) {
		l.observe(string(model.FetchMethodLight), nil, time.Since(start))
		return lightResult, nil
	}
	result, err := l.browser.Fetch(ctx, rawURL, opts.Cookies, opts.ExtraSettle)
	l.observe(string(model.FetchMethodBrowser), err, time.Since(start))
	return result, err
}

func (l *Layer) observe(method string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveFetch(method, outcome, duration)
}

func looksLikeSchedule(body string) bool {
	return timeLikeRe.MatchString(body) && dayNameRe.MatchString(body)
}
