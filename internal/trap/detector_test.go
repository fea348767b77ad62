package trap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milesc-bot/gym-scraper/internal/metrics"
)

func init() { metrics.Init() }

func TestCheckURL_RejectsSecondVisitToSameURL(t *testing.T) {
	t.Parallel()

	d := New(10)
	url := "https://gym.example.com/schedule"

	require.True(t, d.CheckURL(url).Safe)
	// CheckURL alone never marks a URL visited; only a completed CheckContent
	// call does, so the first fetch-then-check cycle must run before a repeat
	// is detectable.
	require.True(t, d.CheckContent(url, "monday 6am yoga class schedule", 1).Safe)
	require.False(t, d.CheckURL(url).Safe)
}

func TestCheckURL_RejectsRepeatingPathSegment(t *testing.T) {
	t.Parallel()

	d := New(10)
	res := d.CheckURL("https://gym.example.com/a/a/a/page")
	require.False(t, res.Safe)
	require.Contains(t, res.Reason, "repeating")
}

func TestCheckURL_RejectsMaxDepthExceeded(t *testing.T) {
	t.Parallel()

	d := New(1)
	url := "https://gym.example.com/schedule"
	require.True(t, d.CheckURL(url).Safe)
	require.True(t, d.CheckContent(url, "monday 6am yoga schedule classes", 1).Safe)

	res := d.CheckURL("https://gym.example.com/other")
	require.False(t, res.Safe)
	require.Contains(t, res.Reason, "depth")
}

func TestCheckURL_RejectsTooManyQueryParams(t *testing.T) {
	t.Parallel()

	d := New(10)
	url := "https://gym.example.com/schedule?a=1&b=2&c=3&d=4&e=5&f=6&g=7&h=8&i=9"
	res := d.CheckURL(url)
	require.False(t, res.Safe)
	require.Contains(t, res.Reason, "query")
}

func TestCheckContent_RejectsDuplicateContentHash(t *testing.T) {
	t.Parallel()

	d := New(10)
	body := "monday 6am yoga class schedule for the week ahead"
	require.True(t, d.CheckContent("https://gym.example.com/a", body, 1).Safe)
	res := d.CheckContent("https://gym.example.com/b", body, 1)
	require.False(t, res.Safe)
	require.Contains(t, res.Reason, "duplicate")
}

func TestCheckContent_RejectsLowScheduleDensityWithZeroClasses(t *testing.T) {
	t.Parallel()

	d := New(10)
	filler := strings.Repeat("lorem ipsum dolor sit amet consectetur adipiscing elit sed ", 60)
	res := d.CheckContent("https://gym.example.com/x", filler, 0)
	require.False(t, res.Safe)
	require.Contains(t, res.Reason, "density")
}

func TestCheckContent_AcceptsLowDensityWhenClassesWereExtracted(t *testing.T) {
	t.Parallel()

	d := New(10)
	filler := strings.Repeat("lorem ipsum dolor sit amet consectetur adipiscing elit sed ", 60)
	res := d.CheckContent("https://gym.example.com/y", filler, 5)
	require.True(t, res.Safe)
}

func TestReset_ClearsPerHostState(t *testing.T) {
	t.Parallel()

	d := New(10)
	url := "https://gym.example.com/schedule"
	require.True(t, d.CheckURL(url).Safe)
	require.True(t, d.CheckContent(url, "monday 6am yoga class schedule", 1).Safe)
	require.False(t, d.CheckURL(url).Safe)

	d.Reset()
	require.True(t, d.CheckURL(url).Safe)
}
