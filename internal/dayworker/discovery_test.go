package dayworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

func TestDiscoverPattern_FindsDateValuedQueryParam(t *testing.T) {
	t.Parallel()

	requests := []ObservedRequest{
		{URL: "https://gym.example.com/api/schedule?date=2026-08-03&loc=1", Method: model.DayAPIMethodGET},
	}
	pattern, ok := DiscoverPattern(requests)
	require.True(t, ok)
	require.Equal(t, "date", pattern.DateParam)
	require.Contains(t, pattern.URLTemplate, "date={{date}}")
	require.Contains(t, pattern.URLTemplate, "loc=1")
	require.Equal(t, model.DateFormatISO, pattern.DateFormat)
}

func TestDiscoverPattern_RecordsUSDateFormat(t *testing.T) {
	t.Parallel()

	requests := []ObservedRequest{
		{URL: "https://gym.example.com/api/schedule?date=08/03/2026", Method: model.DayAPIMethodGET},
	}
	pattern, ok := DiscoverPattern(requests)
	require.True(t, ok)
	require.Equal(t, model.DateFormatUS, pattern.DateFormat)
}

func TestDiscoverPattern_RecordsEpochSecondsFormat(t *testing.T) {
	t.Parallel()

	requests := []ObservedRequest{
		{URL: "https://gym.example.com/api/schedule?ts=1785715200", Method: model.DayAPIMethodGET},
	}
	pattern, ok := DiscoverPattern(requests)
	require.True(t, ok)
	require.Equal(t, model.DateFormatEpochSeconds, pattern.DateFormat)
}

func TestDiscoverPattern_FindsDateValuedJSONBodyField(t *testing.T) {
	t.Parallel()

	requests := []ObservedRequest{
		{
			URL:    "https://gym.example.com/api/schedule",
			Method: model.DayAPIMethodPOST,
			Body:   `{"filters":{"date":"2026-08-03"},"locationId":1}`,
		},
	}
	pattern, ok := DiscoverPattern(requests)
	require.True(t, ok)
	require.Contains(t, pattern.BodyTemplate, `"{{date}}"`)
	require.NotContains(t, pattern.BodyTemplate, "2026-08-03")
	require.Equal(t, model.DateFormatISO, pattern.DateFormat)
}

func TestDiscoverPattern_SkipsRequestsWithNoDateSignal(t *testing.T) {
	t.Parallel()

	requests := []ObservedRequest{
		{URL: "https://gym.example.com/api/ping", Method: model.DayAPIMethodGET},
	}
	_, ok := DiscoverPattern(requests)
	require.False(t, ok)
}

func TestDiscoverPattern_StripsSensitiveAndFetchMetadataHeaders(t *testing.T) {
	t.Parallel()

	requests := []ObservedRequest{
		{
			URL:    "https://gym.example.com/api/schedule?date=2026-08-03",
			Method: model.DayAPIMethodGET,
			Headers: map[string]string{
				"Cookie":           "session=abc",
				"Sec-Fetch-Mode":   "navigate",
				"X-Requested-With": "XMLHttpRequest",
			},
		},
	}
	pattern, ok := DiscoverPattern(requests)
	require.True(t, ok)
	_, hasCookie := pattern.Headers["Cookie"]
	require.False(t, hasCookie)
	_, hasSecFetch := pattern.Headers["Sec-Fetch-Mode"]
	require.False(t, hasSecFetch)
	require.Contains(t, pattern.Headers, "X-Requested-With")
}

func TestFormatDate_RendersISO8601ByDefault(t *testing.T) {
	t.Parallel()

	d := time.Date(2026, 8, 3, 15, 30, 0, 0, time.UTC)
	require.Equal(t, "2026-08-03", FormatDate(d, ""))
	require.Equal(t, "2026-08-03", FormatDate(d, model.DateFormatISO))
}

func TestFormatDate_RendersUSFormat(t *testing.T) {
	t.Parallel()

	d := time.Date(2026, 8, 3, 15, 30, 0, 0, time.UTC)
	require.Equal(t, "08/03/2026", FormatDate(d, model.DateFormatUS))
}

func TestFormatDate_RendersEpochSecondsAndMillis(t *testing.T) {
	t.Parallel()

	d := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "1785715200", FormatDate(d, model.DateFormatEpochSeconds))
	require.Equal(t, "1785715200000", FormatDate(d, model.DateFormatEpochMillis))
}
