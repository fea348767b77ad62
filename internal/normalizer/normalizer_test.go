package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalize_TwelveHourBoundaries(t *testing.T) {
	t.Parallel()

	reference := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) // a Monday

	res, err := Normalize("monday 12am yoga", "UTC", reference)
	require.NoError(t, err)
	require.Equal(t, 0, res.InstantUTC.Hour())

	res, err = Normalize("monday 12pm yoga", "UTC", reference)
	require.NoError(t, err)
	require.Equal(t, 12, res.InstantUTC.Hour())
}

func TestNormalize_DayTokenResolvesForwardWithinWeek(t *testing.T) {
	t.Parallel()

	reference := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) // Monday
	res, err := Normalize("friday 6:30pm spin", "UTC", reference)
	require.NoError(t, err)
	require.Equal(t, time.Friday, res.InstantUTC.Weekday())
	require.Equal(t, 18, res.InstantUTC.Hour())
	require.Equal(t, 30, res.InstantUTC.Minute())
}

func TestNormalize_TodayTomorrowTokens(t *testing.T) {
	t.Parallel()

	reference := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

	res, err := Normalize("today 5pm hiit", "UTC", reference)
	require.NoError(t, err)
	require.Equal(t, reference.Day(), res.InstantUTC.Day())

	res, err = Normalize("tomorrow 5pm hiit", "UTC", reference)
	require.NoError(t, err)
	require.Equal(t, reference.AddDate(0, 0, 1).Day(), res.InstantUTC.Day())
}

func TestNormalize_UnrecognizedDayTokenFallsBackWithWarning(t *testing.T) {
	t.Parallel()

	reference := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	res, err := Normalize("funday 5pm hiit", "UTC", reference)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warning)
	require.Equal(t, reference.Day(), res.InstantUTC.Day())
}

func TestNormalize_NoRecognizedTimeShapeErrors(t *testing.T) {
	t.Parallel()

	_, err := Normalize("monday sometime", "UTC", time.Now())
	require.Error(t, err)
}

func TestNormalize_UnknownTimezoneErrors(t *testing.T) {
	t.Parallel()

	_, err := Normalize("monday 5pm", "Not/AZone", time.Now())
	require.Error(t, err)
}

func TestNormalize_TwentyFourHourClock(t *testing.T) {
	t.Parallel()

	reference := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	res, err := Normalize("monday 18:15", "UTC", reference)
	require.NoError(t, err)
	require.Equal(t, 18, res.InstantUTC.Hour())
	require.Equal(t, 15, res.InstantUTC.Minute())
}

func TestNormalize_ConvertsEasternLocalTimeToUTCInstant(t *testing.T) {
	t.Parallel()

	// Sunday in New York; "Monday 6:00 PM" resolves to the next day at
	// 18:00 EST, which is 23:00 UTC.
	reference := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC)
	res, err := Normalize("Monday 6:00 PM", "America/New_York", reference)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 2, 9, 23, 0, 0, 0, time.UTC), res.InstantUTC)
}

func TestNormalize_IsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	reference := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	first, err := Normalize("wednesday 7am cycle", "America/New_York", reference)
	require.NoError(t, err)
	second, err := Normalize("wednesday 7am cycle", "America/New_York", reference)
	require.NoError(t, err)
	require.True(t, first.InstantUTC.Equal(second.InstantUTC))
}
