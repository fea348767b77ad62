// Package compliance enforces robots.txt and per-domain rate limiting before
// any fetch, and classifies paywall/auth-wall responses.
package compliance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/milesc-bot/gym-scraper/internal/domainkey"
)

const robotsFetchTimeout = 5 * time.Second

// Gate is the compliance gate described by the pipeline: robots enforcement
// plus a page limiter and an API limiter, both keyed on registrable domain.
type Gate struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	robotsCache sync.Map // domain -> *robotstxt.RobotsData

	pageLimiterMu sync.Mutex
	pageLimiters  map[string]*hostLimiter

	apiLimiterMu sync.Mutex
	apiLimiters  map[string]*apiLimiter

	rateLimitMs int
}

// New builds a Gate. rateLimitMs is the page limiter's minimum interval
// between requests to the same domain.
func New(userAgent string, rateLimitMs int, logger *zap.Logger) *Gate {
	return &Gate{
		client:       &http.Client{Timeout: robotsFetchTimeout},
		userAgent:    userAgent,
		logger:       logger,
		pageLimiters: make(map[string]*hostLimiter),
		apiLimiters:  make(map[string]*apiLimiter),
		rateLimitMs:  rateLimitMs,
	}
}

// hostLimiter spaces page-level request starts to one domain at least
// rateLimitMs apart, as a golang.org/x/time/rate interval limiter with burst
// 1. It holds no slot while a fetch runs, so a fetch that outlasts the
// interval can overlap the next one.
type hostLimiter struct {
	limiter *rate.Limiter
}

// IsAllowed reports whether rawURL may be fetched under the cached robots
// policy for its domain. Robots fetch failures and 4xx/5xx robots.txt
// responses are treated as unrestricted per RFC 9309.
func (g *Gate) IsAllowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := g.loadRobots(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed; treating as unrestricted", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (g *Gate) loadRobots(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	dom, err := domainkey.For(parsed.String())
	if err != nil {
		return nil, err
	}
	if cached, ok := g.robotsCache.Load(dom); ok {
		data, assertOK := cached.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsCtx, cancel := context.WithTimeout(ctx, robotsFetchTimeout)
	defer cancel()

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(robotsCtx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		// Fetch failure: RFC 9309 says treat as unrestricted. Cache an
		// allow-all so we don't retry every call.
		allowAll, parseErr := robotstxt.FromStatusAndBytes(http.StatusOK, nil)
		if parseErr == nil {
			g.robotsCache.Store(dom, allowAll)
		}
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	if resp.StatusCode >= 400 {
		// 4xx/5xx robots.txt is unrestricted per RFC 9309.
		data, parseErr := robotstxt.FromStatusAndBytes(http.StatusOK, nil)
		if parseErr != nil {
			return nil, fmt.Errorf("parse fail-open robots: %w", parseErr)
		}
		g.robotsCache.Store(dom, data)
		return data, nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	g.robotsCache.Store(dom, data)
	return data, nil
}

// WaitPage blocks until the caller may start a page-level fetch to rawURL's
// domain, at most one start per rateLimitMs. It does not wait for earlier
// fetches to that domain to finish.
func (g *Gate) WaitPage(ctx context.Context, rawURL string) error {
	dom, err := domainkey.For(rawURL)
	if err != nil {
		return err
	}
	hl := g.pageLimiterFor(dom)
	if err := hl.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("page rate limit wait: %w", err)
	}
	return nil
}

func (g *Gate) pageLimiterFor(dom string) *hostLimiter {
	g.pageLimiterMu.Lock()
	defer g.pageLimiterMu.Unlock()
	hl, ok := g.pageLimiters[dom]
	if !ok {
		interval := time.Duration(g.rateLimitMs) * time.Millisecond
		hl = &hostLimiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
		g.pageLimiters[dom] = hl
	}
	return hl
}

// apiMinInterval is the minimum gap enforced between two day-worker API
// requests to the same domain, independent of the burst reservoir below.
const apiMinInterval = 500 * time.Millisecond

// apiLimiter composes the two rules the API limiter must satisfy
// simultaneously: a hard per-request floor, and a burst reservoir that caps
// sustained throughput well under the floor's theoretical rate.
type apiLimiter struct {
	floor *rate.Limiter // burst 1, refilled every apiMinInterval
	burst *rate.Limiter // burst 5, refilled every 10s
}

// WaitAPI blocks until the caller may issue a day-worker API request to
// rawURL's domain: max concurrency 3 (via APIConcurrency, enforced by the
// caller's semaphore), min interval 500ms, burst reservoir of 5 refilled
// every 10s.
func (g *Gate) WaitAPI(ctx context.Context, rawURL string) error {
	dom, err := domainkey.For(rawURL)
	if err != nil {
		return err
	}
	limiter := g.apiLimiterFor(dom)
	if err := limiter.floor.Wait(ctx); err != nil {
		return fmt.Errorf("api rate limit wait: %w", err)
	}
	if err := limiter.burst.Wait(ctx); err != nil {
		return fmt.Errorf("api rate limit wait: %w", err)
	}
	return nil
}

func (g *Gate) apiLimiterFor(dom string) *apiLimiter {
	g.apiLimiterMu.Lock()
	defer g.apiLimiterMu.Unlock()
	limiter, ok := g.apiLimiters[dom]
	if !ok {
		limiter = &apiLimiter{
			floor: rate.NewLimiter(rate.Every(apiMinInterval), 1),
			burst: rate.NewLimiter(rate.Every(10*time.Second/5), 5),
		}
		g.apiLimiters[dom] = limiter
	}
	return limiter
}

// IsPaywall reports whether status indicates a paywall.
func IsPaywall(status int) bool { return status == http.StatusPaymentRequired }

// IsAuthWall reports whether status indicates an authentication wall.
func IsAuthWall(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// APIConcurrency is the maximum number of concurrent day-worker API replays.
const APIConcurrency = 3
