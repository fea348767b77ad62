package dayworker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

// APILimiter is the narrow slice of the compliance gate the day-worker pool
// needs: per-domain throttling for replay requests.
type APILimiter interface {
	WaitAPI(ctx context.Context, rawURL string) error
}

// Pool replays a discovered DayAPIPattern across a week of dates.
type Pool struct {
	client  *retryablehttp.Client
	limiter APILimiter
	logger  *zap.Logger
}

// New builds a Pool. limiter throttles each replay to the compliance gate's
// API limiter semantics (3 concurrent, 500ms floor, burst of 5 per 10s).
func New(limiter APILimiter, logger *zap.Logger) *Pool {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	return &Pool{client: client, limiter: limiter, logger: logger}
}

// FetchWeekParallel generates 7 consecutive dates starting at weekStart,
// substitutes each into pattern, and submits all 7 replays concurrently
// through the API limiter (compliance.APIConcurrency at a time). Partial
// success is acceptable; failures are reported per day.
func (p *Pool) FetchWeekParallel(ctx context.Context, pattern model.DayAPIPattern, weekStart time.Time, cookieHeader string) []model.DayReplayResult {
	dates := make([]time.Time, 7)
	for i := range dates {
		dates[i] = weekStart.AddDate(0, 0, i)
	}

	results := make([]model.DayReplayResult, len(dates))
	sem := make(chan struct{}, compliance.APIConcurrency)
	var wg sync.WaitGroup

	for i, date := range dates {
		wg.Add(1)
		go func(idx int, d time.Time) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = p.replayOne(ctx, pattern, d, cookieHeader)
		}(i, date)
	}
	wg.Wait()
	return results
}

func (p *Pool) replayOne(ctx context.Context, pattern model.DayAPIPattern, date time.Time, cookieHeader string) model.DayReplayResult {
	dateStr := FormatDate(date, pattern.DateFormat)
	urlStr := strings.ReplaceAll(pattern.URLTemplate, "{{date}}", dateStr)
	body := strings.ReplaceAll(pattern.BodyTemplate, "{{date}}", dateStr)

	if err := p.limiter.WaitAPI(ctx, urlStr); err != nil {
		return model.DayReplayResult{Date: dateStr, Err: fmt.Errorf("api rate limit wait: %w", err)}
	}

	method := string(pattern.Method)
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return model.DayReplayResult{Date: dateStr, Err: fmt.Errorf("build replay request: %w", err)}
	}
	for k, v := range pattern.Headers {
		req.Header.Set(k, v)
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.DayReplayResult{Date: dateStr, Err: fmt.Errorf("replay request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	var replayErr error
	if !success {
		replayErr = fmt.Errorf("replay returned status %d", resp.StatusCode)
	}
	return model.DayReplayResult{Date: dateStr, Success: success, StatusCode: resp.StatusCode, Err: replayErr}
}
