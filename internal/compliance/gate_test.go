package compliance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsAllowed_RespectsDisallowRule(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := New("TestBot", 100, zap.NewNop())
	require.True(t, g.IsAllowed(context.Background(), srv.URL+"/schedule"))
	require.False(t, g.IsAllowed(context.Background(), srv.URL+"/private/data"))
}

func TestIsAllowed_TreatsRobotsFetchFailureAsUnrestricted(t *testing.T) {
	t.Parallel()

	g := New("TestBot", 100, zap.NewNop())
	require.True(t, g.IsAllowed(context.Background(), "http://127.0.0.1:1/schedule"))
}

func TestIsAllowed_TreatsRobots5xxAsUnrestricted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := New("TestBot", 100, zap.NewNop())
	require.True(t, g.IsAllowed(context.Background(), srv.URL+"/anything"))
}

func TestIsAllowed_CachesRobotsAcrossCalls(t *testing.T) {
	t.Parallel()

	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer srv.Close()

	g := New("TestBot", 100, zap.NewNop())
	g.IsAllowed(context.Background(), srv.URL+"/a")
	g.IsAllowed(context.Background(), srv.URL+"/b")
	require.Equal(t, 1, fetches)
}

func TestWaitPage_EnforcesMinimumIntervalPerDomain(t *testing.T) {
	t.Parallel()

	g := New("TestBot", 50, zap.NewNop())
	start := time.Now()
	require.NoError(t, g.WaitPage(context.Background(), "https://gym.example.com/a"))
	require.NoError(t, g.WaitPage(context.Background(), "https://gym.example.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitAPI_EnforcesMinimumFloorBetweenRequests(t *testing.T) {
	t.Parallel()

	g := New("TestBot", 100, zap.NewNop())
	start := time.Now()
	require.NoError(t, g.WaitAPI(context.Background(), "https://gym.example.com/api"))
	require.NoError(t, g.WaitAPI(context.Background(), "https://gym.example.com/api"))
	require.GreaterOrEqual(t, time.Since(start), apiMinInterval-50*time.Millisecond)
}

func TestWaitAPI_ThrottlesWhenNoTokenIsAvailableInTime(t *testing.T) {
	t.Parallel()

	g := New("TestBot", 100, zap.NewNop())
	require.NoError(t, g.WaitAPI(context.Background(), "https://gym.example.com/api"))

	// The floor limiter's single token was just spent; a caller with no
	// time to wait for the next one must fail, independent of the burst
	// reservoir's own state.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.WaitAPI(ctx, "https://gym.example.com/api")
	require.Error(t, err)
}

func TestIsPaywallAndIsAuthWall(t *testing.T) {
	t.Parallel()

	require.True(t, IsPaywall(http.StatusPaymentRequired))
	require.False(t, IsPaywall(http.StatusOK))
	require.True(t, IsAuthWall(http.StatusUnauthorized))
	require.True(t, IsAuthWall(http.StatusForbidden))
	require.False(t, IsAuthWall(http.StatusOK))
}
