package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/clock"
)

type fakeLoginPage struct {
	found       map[string]bool
	html        string
	typeErr     error
	clickErr    error
	typedValues map[string]string
}

func newFakeLoginPage() *fakeLoginPage {
	return &fakeLoginPage{
		found: map[string]bool{
			`input[name="username"]`: true,
			`input[name="password"]`: true,
			`button[type="submit"]`:  true,
		},
		html:        `<html><body>welcome back</body></html>`,
		typedValues: map[string]string{},
	}
}

func (p *fakeLoginPage) Find(ctx context.Context, selector string) (bool, error) {
	return p.found[selector], nil
}

func (p *fakeLoginPage) Type(ctx context.Context, selector, text string, interKeyDelay func(prev rune) time.Duration) error {
	if p.typeErr != nil {
		return p.typeErr
	}
	p.typedValues[selector] = text
	return nil
}

func (p *fakeLoginPage) Click(ctx context.Context, selector string) error {
	return p.clickErr
}

func (p *fakeLoginPage) WaitNavigation(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (p *fakeLoginPage) OuterHTML(ctx context.Context) (string, error) {
	return p.html, nil
}

func newTestManager(t *testing.T, page *fakeLoginPage) *Manager {
	t.Helper()
	store := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	creds := Credentials{Username: "alice", Password: "s3cret"}
	mgr := NewManager(creds, store, time.Hour, nil, zap.NewNop(), clock.Fixed{At: time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)})
	return mgr
}

func loginFnFor(page *fakeLoginPage) func(context.Context) (LoginPage, func() error, error) {
	return func(ctx context.Context) (LoginPage, func() error, error) {
		return page, func() error { return nil }, nil
	}
}

func TestNotifyLoginWall_SuccessfulLoginOpensGateAndPersistsCookies(t *testing.T) {
	t.Parallel()

	page := newFakeLoginPage()
	mgr := newTestManager(t, page)

	mgr.NotifyLoginWall(context.Background(), loginFnFor(page))
	require.NoError(t, mgr.AwaitGate(context.Background()))
	require.Equal(t, "alice", page.typedValues[`input[name="username"]`])
	require.Equal(t, "s3cret", page.typedValues[`input[name="password"]`])
	require.FileExists(t, mgr.store.path)
}

func TestNotifyLoginWall_ExhaustsAttemptsAndFailsGate(t *testing.T) {
	t.Parallel()

	page := newFakeLoginPage()
	page.html = `<html><body><input type="password"></body></html>` // still present post-submit
	mgr := newTestManager(t, page)

	mgr.NotifyLoginWall(context.Background(), loginFnFor(page))
	err := mgr.AwaitGate(context.Background())
	require.Error(t, err)
}

func TestNotifyLoginWall_MissingSelectorsWithNoPlannerFailsGate(t *testing.T) {
	t.Parallel()

	page := newFakeLoginPage()
	page.found = map[string]bool{} // no common selector matches
	mgr := newTestManager(t, page)

	mgr.NotifyLoginWall(context.Background(), loginFnFor(page))
	err := mgr.AwaitGate(context.Background())
	require.Error(t, err)
}

type fakeSelectorPlanner struct {
	usernameSel, passwordSel, submitSel string
	err                                 error
}

func (f fakeSelectorPlanner) PlanLoginSelectors(ctx context.Context, html string) (string, string, string, error) {
	return f.usernameSel, f.passwordSel, f.submitSel, f.err
}

func TestNotifyLoginWall_FallsBackToPlannerWhenNoCommonSelectorMatches(t *testing.T) {
	t.Parallel()

	page := newFakeLoginPage()
	page.found = map[string]bool{
		"#user": true,
		"#pass": true,
		"#go":   true,
	}
	store := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	planner := fakeSelectorPlanner{usernameSel: "#user", passwordSel: "#pass", submitSel: "#go"}
	mgr := NewManager(Credentials{Username: "alice", Password: "s3cret"}, store, time.Hour, planner, zap.NewNop(),
		clock.Fixed{At: time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)})

	mgr.NotifyLoginWall(context.Background(), loginFnFor(page))
	require.NoError(t, mgr.AwaitGate(context.Background()))
	require.Equal(t, "alice", page.typedValues["#user"])
}

func TestNotifyLoginWall_SecondCallWhileInProgressDoesNotStartAnotherLogin(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 10)
	release := make(chan struct{})
	page := newFakeLoginPage()
	mgr := newTestManager(t, page)

	blockingLoginFn := func(ctx context.Context) (LoginPage, func() error, error) {
		started <- struct{}{}
		<-release
		return page, func() error { return nil }, nil
	}

	mgr.NotifyLoginWall(context.Background(), blockingLoginFn)
	<-started // first attempt has called loginFn and is now blocked

	mgr.NotifyLoginWall(context.Background(), blockingLoginFn) // must be a no-op

	select {
	case <-started:
		t.Fatal("a second login task must not start while one is in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, mgr.AwaitGate(context.Background()))
}

func TestAwaitGate_ReturnsContextErrorWhenCanceledBeforeOpen(t *testing.T) {
	t.Parallel()

	page := newFakeLoginPage()
	mgr := newTestManager(t, page)

	block := make(chan struct{})
	blockingLoginFn := func(ctx context.Context) (LoginPage, func() error, error) {
		<-block
		return nil, nil, fmt.Errorf("unused")
	}
	mgr.NotifyLoginWall(context.Background(), blockingLoginFn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mgr.AwaitGate(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(block)
}
