// Package fetch implements the two-path fetch layer: a lightweight HTTP
// client impersonating a desktop browser, a managed-browser path, and the
// decision rule between them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

const defaultLightTimeout = 30 * time.Second

// LightFetcher issues single-shot HTTPS requests via a colly.Collector whose
// transport and header set are configured to resemble a current desktop
// browser. There is no TLS Client Hello fingerprint spoofing library in
// reach (see DESIGN.md); this header-level impersonation is the closest
// available approximation.
type LightFetcher struct {
	base      *colly.Collector
	userAgent string
	logger    *zap.Logger
	timeout   time.Duration
}

// NewLightFetcher builds a LightFetcher using userAgent for page fetches. It
// does not read robots.txt; the compliance gate does that.
func NewLightFetcher(userAgent string, timeout time.Duration, logger *zap.Logger) *LightFetcher {
	if timeout <= 0 {
		timeout = defaultLightTimeout
	}
	base := colly.NewCollector(colly.Async(false), colly.UserAgent(userAgent))
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true // the compliance gate owns robots enforcement
	base.ParseHTTPErrorResponse = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(timeout)

	return &LightFetcher{base: base, userAgent: userAgent, logger: logger, timeout: timeout}
}

// applyImpersonationHeaders sets the header family a current desktop Chrome
// would send, since the wire-level TLS handshake itself cannot be spoofed
// with any library available here.
func applyImpersonationHeaders(h *http.Header, userAgent string) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("sec-ch-ua", `"Chromium";v="126", "Google Chrome";v="126", "Not-A.Brand";v="99"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Upgrade-Insecure-Requests", "1")
}

type lightResult struct {
	body       string
	statusCode int
	headers    map[string][]string
	err        error
}

// Fetch performs a single light-path request against rawURL, with
// cookieHeader (if non-empty) attached for session continuity.
func (f *LightFetcher) Fetch(ctx context.Context, rawURL, cookieHeader string) (model.FetchResult, error) {
	// Clone drops the base collector's callbacks, so every hook is
	// registered on the per-fetch clone.
	collector := f.base.Clone()
	resultCh := make(chan lightResult, 1)
	var once sync.Once
	send := func(r lightResult) { once.Do(func() { resultCh <- r }) }

	collector.OnRequest(func(r *colly.Request) {
		applyImpersonationHeaders(r.Headers, f.userAgent)
		if cookieHeader != "" {
			r.Headers.Set("Cookie", cookieHeader)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		headers := map[string][]string{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				headers[k] = append([]string{}, v...)
			}
		}
		send(lightResult{body: string(r.Body), statusCode: r.StatusCode, headers: headers})
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown light-fetch error")
		}
		send(lightResult{statusCode: status, err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return model.FetchResult{}, fmt.Errorf("light fetch visit: %w", err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.FetchResult{}, ctxErr
		}
		if res.err != nil && res.statusCode == 0 {
			return model.FetchResult{}, fmt.Errorf("light fetch: %w", res.err)
		}
		return model.FetchResult{
			Body:       res.body,
			StatusCode: res.statusCode,
			Method:     model.FetchMethodLight,
			Headers:    res.headers,
		}, nil
	default:
		return model.FetchResult{}, errors.New("light fetch produced no result")
	}
}
