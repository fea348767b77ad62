package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInit_IsIdempotent(t *testing.T) {
	Init()
	Init() // must not panic or re-register collectors
}

func TestObserveFetch_IncrementsCounterWithLabels(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("light", "success"))
	ObserveFetch("light", "success", 120*time.Millisecond)
	after := testutil.ToFloat64(fetchesTotal.WithLabelValues("light", "success"))
	require.Equal(t, before+1, after)
}

func TestObserveTrapHit_IncrementsCounterForReason(t *testing.T) {
	Init()
	before := testutil.ToFloat64(trapHitsTotal.WithLabelValues("already visited"))
	ObserveTrapHit("already visited")
	after := testutil.ToFloat64(trapHitsTotal.WithLabelValues("already visited"))
	require.Equal(t, before+1, after)
}

func TestObserveClassesUpserted_AddsCount(t *testing.T) {
	Init()
	before := testutil.ToFloat64(classesUpsertedTotal)
	ObserveClassesUpserted(4)
	after := testutil.ToFloat64(classesUpsertedTotal)
	require.Equal(t, before+4, after)
}

func TestObserveDayReplay_IncrementsOutcomeCounter(t *testing.T) {
	Init()
	before := testutil.ToFloat64(dayReplayTotal.WithLabelValues("success"))
	ObserveDayReplay("success")
	after := testutil.ToFloat64(dayReplayTotal.WithLabelValues("success"))
	require.Equal(t, before+1, after)
}

func TestHandler_ServesPrometheusTextFormat(t *testing.T) {
	Init()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "classes_upserted_total")
}
