// Package orchestrator sequences the fetch-validate-retry pipeline against a
// single URL: compliance-gated fetch, optional navigation planning, scraper
// dispatch, validation with a single targeted retry, trap content check,
// normalization, and upsert.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/browserpool"
	"github.com/milesc-bot/gym-scraper/internal/clock"
	"github.com/milesc-bot/gym-scraper/internal/dayworker"
	"github.com/milesc-bot/gym-scraper/internal/fetch"
	"github.com/milesc-bot/gym-scraper/internal/llmplan"
	"github.com/milesc-bot/gym-scraper/internal/metrics"
	"github.com/milesc-bot/gym-scraper/internal/model"
	"github.com/milesc-bot/gym-scraper/internal/normalizer"
	"github.com/milesc-bot/gym-scraper/internal/scraper"
	"github.com/milesc-bot/gym-scraper/internal/session"
	"github.com/milesc-bot/gym-scraper/internal/sink"
	"github.com/milesc-bot/gym-scraper/internal/trap"
	"github.com/milesc-bot/gym-scraper/internal/validator"
)

const retryWaitLongerSettle = 5 * time.Second

// FatalError is returned for conditions the contract marks fatal: a paywall
// response or an empty body after fetch.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "fatal: " + e.Reason }

// TrapError is returned when the pre-fetch trap check rejects the URL.
type TrapError struct {
	Reason string
}

func (e *TrapError) Error() string { return "trap check rejected url: " + e.Reason }

// clickablePage is the richer surface a borrowed browser page exposes beyond
// model.BrowserPage, needed for load-more handling and re-capturing HTML.
// Only *browserpool.Page satisfies this in practice.
type clickablePage interface {
	Click(ctx context.Context, selector string) error
	OuterHTML(ctx context.Context) (string, error)
}

// Fetcher is the narrow slice of the fetch layer the orchestrator needs.
// *fetch.Layer is the only production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, opts fetch.Options) (model.FetchResult, error)
}

// Orchestrator wires the pipeline's collaborators together.
type Orchestrator struct {
	logger *zap.Logger
	clock  clock.Clock

	fetchLayer     Fetcher
	trapDetector   *trap.Detector
	sessionMgr     *session.Manager     // may be nil if the site requires no login
	browserPool    *browserpool.Pool    // may be nil alongside sessionMgr
	validatorImpl  *validator.Validator
	scraperFactory *scraper.Factory
	sinkImpl       sink.Sink
	planner        llmplan.Planner // may be nil

	defaultTimezone string
}

// New builds an Orchestrator. sessionMgr, browserPool, and planner may be
// nil together when the target site requires no authentication.
func New(
	logger *zap.Logger,
	clk clock.Clock,
	fetchLayer Fetcher,
	trapDetector *trap.Detector,
	sessionMgr *session.Manager,
	browserPool *browserpool.Pool,
	validatorImpl *validator.Validator,
	scraperFactory *scraper.Factory,
	sinkImpl sink.Sink,
	planner llmplan.Planner,
	defaultTimezone string,
) *Orchestrator {
	return &Orchestrator{
		logger:          logger,
		clock:           clk,
		fetchLayer:      fetchLayer,
		trapDetector:    trapDetector,
		sessionMgr:      sessionMgr,
		browserPool:     browserPool,
		validatorImpl:   validatorImpl,
		scraperFactory:  scraperFactory,
		sinkImpl:        sinkImpl,
		planner:         planner,
		defaultTimezone: defaultTimezone,
	}
}

// runState accumulates the mutable outputs threaded across stages, since
// Go's lack of multi-return composition makes a single struct cleaner than
// a dozen named returns.
type runState struct {
	opts     fetch.Options
	result   model.FetchResult
	scraped  model.ScrapeResult
	report   model.ValidatorReport
	retried  bool
	warnings []string
}

// Run executes the nine-stage pipeline against rawURL. Locations that don't
// carry their own IANA zone fall back to the default timezone the
// orchestrator was built with.
func (o *Orchestrator) Run(ctx context.Context, rawURL string) (model.OrchestratorResult, error) {
	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID), zap.String("url", rawURL))

	// Stage 2: trap pre-check.
	if res := o.trapDetector.CheckURL(rawURL); !res.Safe {
		return model.OrchestratorResult{}, &TrapError{Reason: res.Reason}
	}

	st := &runState{}

	// Stage 3: session gate, fetch, paywall/empty-body fatal checks.
	if o.sessionMgr != nil {
		if err := o.sessionMgr.AwaitGate(ctx); err != nil {
			return model.OrchestratorResult{}, fmt.Errorf("await session gate: %w", err)
		}
		st.opts.CookieHeader = cookieHeaderFrom(o.sessionMgr.Cookies())
		st.opts.Cookies = o.sessionMgr.Cookies()
	}

	if err := o.fetchAndCheckFatal(ctx, rawURL, st); err != nil {
		return model.OrchestratorResult{}, err
	}
	defer func() { o.releaseContext(st.result) }()

	// Stage 3b: post-load login-wall probe, independent of any navigation
	// plan. A visible password input on an otherwise-200 page closes the
	// session gate the same way a 401/403 response or a login redirect does.
	if err := o.checkLoginWallAndReauth(ctx, rawURL, st); err != nil {
		return model.OrchestratorResult{}, err
	}

	// Stage 4: optional navigation planning.
	if err := o.applyPlan(ctx, rawURL, st); err != nil {
		log.Warn("navigation planning failed; proceeding with fetched body", zap.Error(err))
	}

	// Stage 5: scraper dispatch.
	if err := o.extract(rawURL, st); err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("extract: %w", err)
	}

	// Stage 6: validate, with exactly one targeted retry.
	o.validateAndMaybeRetry(ctx, rawURL, st, log)

	// Stage 7: trap content check; non-aborting.
	if res := o.trapDetector.CheckContent(rawURL, st.result.Body, len(st.scraped.Classes)); !res.Safe {
		st.warnings = append(st.warnings, "trap content check: "+res.Reason)
		log.Warn("trap content check flagged page", zap.String("reason", res.Reason))
	}

	// Stage 8: normalize.
	o.normalize(st)

	// Stage 9: persist.
	result, err := o.persist(ctx, st)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("persist: %w", err)
	}

	for _, w := range st.warnings {
		log.Warn("run completed with warning", zap.String("warning", w))
	}
	return result, nil
}

func cookieHeaderFrom(cookies []browserpool.Cookie) string {
	var header string
	for _, c := range cookies {
		if header != "" {
			header += "; "
		}
		header += c.Name + "=" + c.Value
	}
	return header
}

func (o *Orchestrator) fetchAndCheckFatal(ctx context.Context, rawURL string, st *runState) error {
	result, err := o.fetchLayer.Fetch(ctx, rawURL, st.opts)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	if result.StatusCode == 402 {
		return &FatalError{Reason: "paywall response"}
	}
	if result.Body == "" {
		return &FatalError{Reason: "empty body after fetch"}
	}
	st.result = result
	return nil
}

func (o *Orchestrator) releaseContext(result model.FetchResult) {
	if result.ContextHandle != nil {
		_ = result.ContextHandle.Close()
	}
}

// checkLoginWallAndReauth runs the post-load DOM probe for a visible
// password input. When it fires, it closes the session gate via the
// manager's login flow and, once the gate reopens, re-fetches rawURL
// through the browser path with the refreshed cookies.
func (o *Orchestrator) checkLoginWallAndReauth(ctx context.Context, rawURL string, st *runState) error {
	if o.sessionMgr == nil || o.browserPool == nil {
		return nil
	}
	if !session.CheckForLoginWall(st.result.Body) {
		return nil
	}
	o.sessionMgr.NotifyLoginWall(ctx, o.loginPageOpener(rawURL))
	if err := o.sessionMgr.AwaitGate(ctx); err != nil {
		return fmt.Errorf("await gate after login wall probe: %w", err)
	}
	o.releaseContext(st.result)
	st.opts.ForceBrowser = true
	st.opts.CookieHeader = cookieHeaderFrom(o.sessionMgr.Cookies())
	st.opts.Cookies = o.sessionMgr.Cookies()
	return o.fetchAndCheckFatal(ctx, rawURL, st)
}

func (o *Orchestrator) applyPlan(ctx context.Context, rawURL string, st *runState) error {
	if o.planner == nil || st.result.PageHandle == nil {
		return nil
	}
	plan, err := o.planner.PlanPage(ctx, st.result.Body)
	if err != nil {
		return err
	}

	page, ok := st.result.PageHandle.(clickablePage)
	if !ok {
		return nil
	}

	if plan.AuthWallDetected && o.sessionMgr != nil && o.browserPool != nil {
		o.sessionMgr.NotifyLoginWall(ctx, o.loginPageOpener(rawURL))
		if err := o.sessionMgr.AwaitGate(ctx); err != nil {
			return fmt.Errorf("await gate after auth-wall: %w", err)
		}
		o.releaseContext(st.result)
		st.opts.ForceBrowser = true
		return o.fetchAndCheckFatal(ctx, rawURL, st)
	}

	if plan.LoadMoreSelector != "" {
		if err := page.Click(ctx, plan.LoadMoreSelector); err != nil {
			return fmt.Errorf("click load-more: %w", err)
		}
		html, err := page.OuterHTML(ctx)
		if err != nil {
			return fmt.Errorf("re-capture html after load-more: %w", err)
		}
		st.result.Body = html
	}
	return nil
}

// loginPageOpener builds the loginFn the session manager's login flow uses
// to borrow a fresh browser page navigated to rawURL, where the login wall
// was observed.
func (o *Orchestrator) loginPageOpener(rawURL string) func(context.Context) (session.LoginPage, func() error, error) {
	return func(ctx context.Context) (session.LoginPage, func() error, error) {
		pg, pc, err := o.browserPool.Borrow(ctx, o.sessionMgr.Cookies())
		if err != nil {
			return nil, nil, fmt.Errorf("borrow login page: %w", err)
		}
		if err := pg.Navigate(ctx, rawURL); err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
		return pg, pc.Close, nil
	}
}

func (o *Orchestrator) extract(rawURL string, st *runState) error {
	extractor := o.scraperFactory.For(rawURL, st.result.Body)
	scraped, err := extractor.Extract(st.result.Body, rawURL)
	if err != nil {
		return err
	}
	st.scraped = scraped
	return nil
}

func (o *Orchestrator) validateAndMaybeRetry(ctx context.Context, rawURL string, st *runState, log *zap.Logger) {
	page, _ := st.result.PageHandle.(validator.Page)
	st.report = o.validatorImpl.Validate(ctx, st.scraped, st.result.Body, page)

	if st.report.Valid || st.report.RetryHint == model.RetryHintNone || st.retried {
		return
	}

	retryOpts, ok := retryOptionsFor(st.report.RetryHint)
	if !ok {
		return
	}

	merged := st.opts
	if err := mergo.Merge(&merged, retryOpts, mergo.WithOverride); err != nil {
		log.Warn("merge retry fetch options failed; skipping retry", zap.Error(err))
		return
	}
	st.retried = true

	o.releaseContext(st.result)

	prevOpts := st.opts
	st.opts = merged
	if err := o.fetchAndCheckFatal(ctx, rawURL, st); err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("retry fetch failed: %v; proceeding with prior data", err))
		st.opts = prevOpts
		return
	}
	if err := o.extract(rawURL, st); err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("retry extract failed: %v; proceeding with prior data", err))
		return
	}
	page, _ = st.result.PageHandle.(validator.Page)
	st.report = o.validatorImpl.Validate(ctx, st.scraped, st.result.Body, page)
	if !st.report.Valid {
		st.warnings = append(st.warnings, "retry did not recover confidence; proceeding with current data")
	}
}

// retryOptionsFor maps a retry hint to the fetch option overrides the
// contract specifies.
func retryOptionsFor(hint model.RetryHint) (fetch.Options, bool) {
	switch hint {
	case model.RetryHintSwitchToBrowser:
		return fetch.Options{ForceBrowser: true}, true
	case model.RetryHintWaitLonger:
		return fetch.Options{ForceBrowser: true, ExtraSettle: retryWaitLongerSettle}, true
	case model.RetryHintPaginateForward, model.RetryHintReAuthenticate:
		return fetch.Options{ForceBrowser: true}, true
	default:
		return fetch.Options{}, false
	}
}

func (o *Orchestrator) normalize(st *runState) {
	reference := o.clock.Now()
	for i := range st.scraped.Classes {
		c := &st.scraped.Classes[i]
		tz := o.timezoneFor(st.scraped, c.LocationRef)

		if c.StartTimeRaw != "" {
			res, err := normalizer.Normalize(c.StartTimeRaw, tz, reference)
			if err != nil {
				st.warnings = append(st.warnings, fmt.Sprintf("normalize start time %q: %v; retained raw value", c.StartTimeRaw, err))
			} else {
				c.StartInstantUTC = res.InstantUTC
				c.Normalized = true
				if res.Warning != "" {
					st.warnings = append(st.warnings, res.Warning)
				}
			}
		}
		if c.EndTimeRaw != "" {
			res, err := normalizer.Normalize(c.EndTimeRaw, tz, reference)
			if err != nil {
				st.warnings = append(st.warnings, fmt.Sprintf("normalize end time %q: %v; retained raw value", c.EndTimeRaw, err))
			} else {
				c.EndInstantUTC = res.InstantUTC
			}
		}
	}
}

func (o *Orchestrator) timezoneFor(result model.ScrapeResult, locationRef string) string {
	for _, loc := range result.Locations {
		if loc.Ref() == locationRef && loc.IANATimezone != "" {
			return loc.IANATimezone
		}
	}
	return o.defaultTimezone
}

func (o *Orchestrator) persist(ctx context.Context, st *runState) (model.OrchestratorResult, error) {
	orgRef, err := o.sinkImpl.UpsertOrganization(ctx, st.scraped.Organization)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("upsert organization: %w", err)
	}

	locations, defaultRef := ensureDefaultLocation(st.scraped, orgRef)
	locRefs, err := o.sinkImpl.UpsertLocations(ctx, orgRef, locations)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("upsert locations: %w", err)
	}

	validRefs := make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		validRefs[loc.Ref()] = struct{}{}
	}

	var toPersist []model.Class
	for _, c := range st.scraped.Classes {
		if !c.Normalized {
			st.warnings = append(st.warnings, fmt.Sprintf("class %q dropped: never normalized", c.Name))
			continue
		}
		if _, ok := validRefs[c.LocationRef]; !ok {
			c.LocationRef = defaultRef
		}
		toPersist = append(toPersist, c)
	}

	count, err := o.sinkImpl.UpsertClasses(ctx, toPersist)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("upsert classes: %w", err)
	}
	metrics.ObserveClassesUpserted(count)

	refs := make([]string, 0, len(locRefs))
	for _, ref := range locRefs {
		refs = append(refs, ref)
	}
	return model.OrchestratorResult{
		OrganizationRef: orgRef,
		LocationRefs:    refs,
		ClassesUpserted: count,
	}, nil
}

// ensureDefaultLocation appends a synthesized "Unknown" location for classes
// whose LocationRef matches none of result's locations, so no class is
// orphaned at persist time.
func ensureDefaultLocation(result model.ScrapeResult, orgRef string) ([]model.Location, string) {
	valid := make(map[string]struct{}, len(result.Locations))
	for _, loc := range result.Locations {
		valid[loc.Ref()] = struct{}{}
	}

	var orphaned bool
	for _, c := range result.Classes {
		if _, ok := valid[c.LocationRef]; !ok {
			orphaned = true
			break
		}
	}
	if !orphaned {
		return result.Locations, ""
	}

	defaultLoc := model.Location{OrganizationRef: orgRef, Name: "Unknown"}
	return append(append([]model.Location(nil), result.Locations...), defaultLoc), defaultLoc.Ref()
}

// ExpandWeek discovers a date-parameterized API pattern from observed page
// traffic, replays it across the week starting at weekStart, and returns the
// number of days whose replay succeeded. Replay response bodies are not
// parsed and nothing is persisted. It is a separate
// operation from Run, invoked by the caller only when browser traffic
// capture is available.
func (o *Orchestrator) ExpandWeek(ctx context.Context, pool *dayworker.Pool, requests []dayworker.ObservedRequest, weekStart time.Time, cookieHeader string) (int, error) {
	pattern, ok := dayworker.DiscoverPattern(requests)
	if !ok {
		return 0, nil
	}

	results := pool.FetchWeekParallel(ctx, pattern, weekStart, cookieHeader)
	var failures int
	for _, r := range results {
		if !r.Success {
			failures++
			metrics.ObserveDayReplay("failure")
			o.logger.Warn("day replay failed", zap.String("date", r.Date), zap.Int("status", r.StatusCode), zap.Error(r.Err))
			continue
		}
		metrics.ObserveDayReplay("success")
	}
	if failures == len(results) {
		return 0, fmt.Errorf("all %d day replays failed", len(results))
	}
	return len(results) - failures, nil
}
