package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milesc-bot/gym-scraper/internal/metrics"
	"github.com/milesc-bot/gym-scraper/internal/model"
)

func init() { metrics.Init() }

func classesNamed(names ...string) []model.Class {
	out := make([]model.Class, 0, len(names))
	for _, n := range names {
		out = append(out, model.Class{Name: n, StartTimeRaw: "monday 6am"})
	}
	return out
}

func TestValidate_ZeroClassesYieldsLowConfidenceAndWaitLongerHint(t *testing.T) {
	t.Parallel()

	v := New()
	report := v.Validate(context.Background(), model.ScrapeResult{}, "<html></html>", nil)
	require.False(t, report.Valid)
	require.Equal(t, model.RetryHintWaitLonger, report.RetryHint)
	require.InDelta(t, 0.1, report.Confidence, 1e-9)
}

func TestValidate_HealthyScheduleIsValidWithFullConfidence(t *testing.T) {
	t.Parallel()

	v := New()
	result := model.ScrapeResult{Classes: classesNamed("Yoga", "Spin", "HIIT", "Pilates")}
	report := v.Validate(context.Background(), result, "<html>a perfectly normal page</html>", nil)
	require.True(t, report.Valid)
	require.Equal(t, 1.0, report.Confidence)
	require.Empty(t, report.Signals)
}

func TestValidate_GarbageClassNamesSwitchToBrowserHint(t *testing.T) {
	t.Parallel()

	v := New()
	result := model.ScrapeResult{Classes: classesNamed("<div>Yoga", "{broken}", "[err]", `esc\aped`)}
	report := v.Validate(context.Background(), result, "<html></html>", nil)
	require.Equal(t, model.RetryHintSwitchToBrowser, report.RetryHint)
}

func TestValidate_DuplicateHeavyResultsWaitLongerHint(t *testing.T) {
	t.Parallel()

	v := New()
	result := model.ScrapeResult{Classes: classesNamed("Yoga", "Yoga", "Yoga", "Yoga", "Yoga")}
	report := v.Validate(context.Background(), result, "<html></html>", nil)
	require.Equal(t, model.RetryHintWaitLonger, report.RetryHint)
}

func TestValidate_AuthWallPhrasesInHTMLYieldReAuthenticateHint(t *testing.T) {
	t.Parallel()

	v := New()
	html := "<html>Please Sign In. Log In to continue and view your schedule.</html>"
	report := v.Validate(context.Background(), model.ScrapeResult{Classes: classesNamed("Yoga", "Spin", "HIIT")}, html, nil)
	require.Equal(t, model.RetryHintReAuthenticate, report.RetryHint)
}

type fakePage struct {
	html string
	err  error
}

func (p fakePage) OuterHTML(ctx context.Context) (string, error) { return p.html, p.err }

func TestValidate_PasswordInputOnLivePageYieldsReAuthenticateHint(t *testing.T) {
	t.Parallel()

	v := New()
	page := fakePage{html: `<html><input type="password" name="pw"></html>`}
	report := v.Validate(context.Background(), model.ScrapeResult{Classes: classesNamed("Yoga", "Spin", "HIIT")}, "<html></html>", page)
	require.Equal(t, model.RetryHintReAuthenticate, report.RetryHint)
}

func TestValidate_PaginationControlYieldsPaginateForwardHint(t *testing.T) {
	t.Parallel()

	v := New()
	page := fakePage{html: `<html><button>Next Day</button></html>`}
	result := model.ScrapeResult{Classes: classesNamed("Yoga", "Spin")} // <3 classes also triggers paginate
	report := v.Validate(context.Background(), result, "<html></html>", page)
	require.Equal(t, model.RetryHintPaginateForward, report.RetryHint)
}
