// Package session maintains authentication state across a run: a gate that
// every fetch caller awaits, a credential+OTP login flow, and cookie
// persistence.
package session

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/browserpool"
	"github.com/milesc-bot/gym-scraper/internal/clock"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

const (
	maxLoginAttempts  = 2
	loginNavTimeout   = 15 * time.Second
	totpNavTimeout    = 10 * time.Second
	keystrokeMeanMs   = 80.0
	keystrokeStdDevMs = 30.0
	keystrokeMinMs    = 20.0
	keystrokeMaxMs    = 500.0
)

// Credentials holds the gym login material.
type Credentials struct {
	Username   string
	Password   string
	TOTPSecret string
}

// SelectorPlanner is the narrow external collaborator the login flow
// delegates to when none of the common selector fallbacks match. It mirrors
// the orchestrator's navigation planner but is scoped to login fields only.
type SelectorPlanner interface {
	PlanLoginSelectors(ctx context.Context, html string) (usernameSel, passwordSel, submitSel string, err error)
}

// LoginPage is the narrow surface the login flow needs from a borrowed
// browser page: enough to locate fields, type into them, and read back HTML
// to detect a TOTP challenge or residual password input.
type LoginPage interface {
	Find(ctx context.Context, selector string) (bool, error)
	Type(ctx context.Context, selector, text string, interKeyDelay func(prev rune) time.Duration) error
	Click(ctx context.Context, selector string) error
	WaitNavigation(ctx context.Context, timeout time.Duration) error
	OuterHTML(ctx context.Context) (string, error)
}

// Manager is the session state machine described by the pipeline: a single
// SessionState plus a gate all fetch callers await.
type Manager struct {
	logger *zap.Logger
	clock  clock.Clock

	creds     Credentials
	store     *CookieStore
	cookieTTL time.Duration

	planner SelectorPlanner // may be nil

	mu              sync.Mutex
	state           model.SessionState
	loginInProgress bool
	gate            *gate
	cookies         []browserpool.Cookie
}

// NewManager builds a Manager. planner may be nil; the login flow then uses
// the common-selector fallback list only.
func NewManager(creds Credentials, store *CookieStore, cookieTTL time.Duration, planner SelectorPlanner, logger *zap.Logger, clk clock.Clock) *Manager {
	return &Manager{
		logger:    logger,
		clock:     clk,
		creds:     creds,
		store:     store,
		cookieTTL: cookieTTL,
		planner:   planner,
		state:     model.SessionStateUnknown,
		gate:      newGate(),
	}
}

// State returns the current session state.
func (m *Manager) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cookies returns the cookies currently held for page borrowing.
func (m *Manager) Cookies() []browserpool.Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]browserpool.Cookie(nil), m.cookies...)
}

// LoadPersistedCookies loads the on-disk cookie store if fresh enough,
// marking the session logged-in on success. cmd/gymscraper calls it once, at
// startup; it is not re-run before later page opens.
func (m *Manager) LoadPersistedCookies() {
	entry, ok, err := m.store.Load(m.cookieTTL)
	if err != nil {
		m.logger.Warn("cookie store load failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	m.mu.Lock()
	m.cookies = entry.Cookies
	m.state = model.SessionStateLoggedIn
	m.mu.Unlock()
}

// AwaitGate blocks until the gate is open, or returns ctx's error, or
// returns the fatal login error if the gate resolved with one.
func (m *Manager) AwaitGate(ctx context.Context) error {
	m.mu.Lock()
	g := m.gate
	m.mu.Unlock()

	ch, errFn := g.Wait()
	select {
	case <-ch:
		return errFn()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyLoginWall is invoked by the browser pool's response observer (401,
// 403, or a login-shaped redirect) and by the post-navigation DOM probe. It
// closes the gate and, unless a re-authentication task is already running
// for this epoch, kicks one off.
func (m *Manager) NotifyLoginWall(ctx context.Context, loginFn func(context.Context) (LoginPage, func() error, error)) {
	m.mu.Lock()
	m.state = model.SessionStateLoggedOut
	m.gate.Close()
	alreadyRunning := m.loginInProgress
	if !alreadyRunning {
		m.loginInProgress = true
	}
	m.mu.Unlock()

	if alreadyRunning {
		return
	}

	go m.runLogin(ctx, loginFn)
}

// CheckForLoginWall inspects rendered HTML for a visible password input,
// the post-load probe the pipeline runs after every navigation.
func CheckForLoginWall(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(`input[type="password"]`).Length() > 0
}

var totpKeywords = []string{
	"verification code", "authenticator", "two-factor", "2fa",
	"one-time password", "enter code", "otp",
}

func looksLikeTOTPChallenge(html string) bool {
	lower := strings.ToLower(html)
	for _, kw := range totpKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// runLogin executes the login flow with up to maxLoginAttempts tries. It
// never itself waits on the gate: the reentrancy guard above (loginInProgress)
// is the only thing preventing the login task from blocking on its own gate.
func (m *Manager) runLogin(ctx context.Context, loginFn func(context.Context) (LoginPage, func() error, error)) {
	defer func() {
		m.mu.Lock()
		m.loginInProgress = false
		m.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= maxLoginAttempts; attempt++ {
		lastErr = m.attemptLogin(ctx, loginFn)
		if lastErr == nil {
			m.mu.Lock()
			m.state = model.SessionStateLoggedIn
			m.mu.Unlock()
			if err := m.store.Save(m.Cookies(), m.clock.Now()); err != nil {
				m.logger.Warn("cookie persist failed after login", zap.Error(err))
			}
			m.gate.Open()
			return
		}
		m.logger.Warn("login attempt failed", zap.Int("attempt", attempt), zap.Error(lastErr))
	}

	m.mu.Lock()
	m.state = model.SessionStateLoggedOut
	m.mu.Unlock()
	m.gate.Fail(fmt.Errorf("login exhausted after %d attempts: %w", maxLoginAttempts, lastErr))
}

var _ LoginPage = (*browserpool.Page)(nil)

var usernameSelectors = []string{
	`input[name="username"]`, `input[name="email"]`, `input[type="email"]`,
	`input#username`, `input#email`,
}
var passwordSelectors = []string{
	`input[name="password"]`, `input[type="password"]`, `input#password`,
}
var submitSelectors = []string{
	`button[type="submit"]`, `input[type="submit"]`, `button#login`, `button#submit`,
}

func (m *Manager) attemptLogin(ctx context.Context, loginFn func(context.Context) (LoginPage, func() error, error)) error {
	navCtx, cancel := context.WithTimeout(ctx, loginNavTimeout)
	defer cancel()

	page, release, err := loginFn(navCtx)
	if err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	defer func() {
		if release != nil {
			_ = release()
		}
	}()

	usernameSel, passwordSel, submitSel, err := m.resolveSelectors(navCtx, page)
	if err != nil {
		return err
	}

	if err := m.typeHumanlike(navCtx, page, usernameSel, m.creds.Username); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	if err := m.typeHumanlike(navCtx, page, passwordSel, m.creds.Password); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}
	if err := page.Click(navCtx, submitSel); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	_ = page.WaitNavigation(navCtx, loginNavTimeout)

	html, err := page.OuterHTML(navCtx)
	if err != nil {
		return fmt.Errorf("read post-login html: %w", err)
	}

	if looksLikeTOTPChallenge(html) {
		if err := m.handleTOTP(ctx, page); err != nil {
			return fmt.Errorf("totp challenge: %w", err)
		}
		html, err = page.OuterHTML(ctx)
		if err != nil {
			return fmt.Errorf("read post-totp html: %w", err)
		}
	}

	if CheckForLoginWall(html) {
		return fmt.Errorf("password input still present after submit")
	}
	return nil
}

func (m *Manager) resolveSelectors(ctx context.Context, page LoginPage) (string, string, string, error) {
	usernameSel, err := firstMatch(ctx, page, usernameSelectors)
	if err == nil {
		passwordSel, perr := firstMatch(ctx, page, passwordSelectors)
		if perr == nil {
			submitSel, serr := firstMatch(ctx, page, submitSelectors)
			if serr == nil {
				return usernameSel, passwordSel, submitSel, nil
			}
		}
	}
	if m.planner == nil {
		return "", "", "", fmt.Errorf("no common login selectors matched and no planner configured")
	}
	html, herr := page.OuterHTML(ctx)
	if herr != nil {
		return "", "", "", fmt.Errorf("read html for planner: %w", herr)
	}
	return m.planner.PlanLoginSelectors(ctx, html)
}

func firstMatch(ctx context.Context, page LoginPage, candidates []string) (string, error) {
	for _, sel := range candidates {
		ok, err := page.Find(ctx, sel)
		if err == nil && ok {
			return sel, nil
		}
	}
	return "", fmt.Errorf("no candidate selector matched")
}

func (m *Manager) handleTOTP(ctx context.Context, page LoginPage) error {
	totpCtx, cancel := context.WithTimeout(ctx, totpNavTimeout)
	defer cancel()

	code, err := GenerateTOTP(m.creds.TOTPSecret, m.clock.Now())
	if err != nil {
		return fmt.Errorf("generate totp: %w", err)
	}

	codeSel := `input[name="code"], input[name="otp"], input[autocomplete="one-time-code"]`
	if err := m.typeHumanlike(totpCtx, page, codeSel, code); err != nil {
		return fmt.Errorf("enter totp code: %w", err)
	}
	if err := page.Click(totpCtx, `button[type="submit"], input[type="submit"]`); err != nil {
		return fmt.Errorf("submit totp: %w", err)
	}
	_ = page.WaitNavigation(totpCtx, totpNavTimeout)
	return nil
}

// typeHumanlike enters text with inter-key delays drawn from a Gaussian
// N(80ms, 30ms) clamped to [20ms, 500ms], with extra pauses around spaces
// and capitalized letters.
func (m *Manager) typeHumanlike(ctx context.Context, page LoginPage, selector, text string) error {
	return page.Type(ctx, selector, text, func(prev rune) time.Duration {
		return jitterDelay() + extraDelayFor(prev)
	})
}

func jitterDelay() time.Duration {
	ms := rand.NormFloat64()*keystrokeStdDevMs + keystrokeMeanMs
	ms = math.Max(keystrokeMinMs, math.Min(keystrokeMaxMs, ms))
	return time.Duration(ms) * time.Millisecond
}

// extraDelayFor returns an additional pause to layer onto jitterDelay for
// spaces and capitalized letters.
func extraDelayFor(r rune) time.Duration {
	if r == ' ' {
		return 60 * time.Millisecond
	}
	if r >= 'A' && r <= 'Z' {
		return 40 * time.Millisecond
	}
	return 0
}
