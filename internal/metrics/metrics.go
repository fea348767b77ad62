// Package metrics exposes Prometheus collectors for the scraping pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal         *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	validatorConfidence  prometheus.Histogram
	gateTransitionsTotal *prometheus.CounterVec
	trapHitsTotal        *prometheus.CounterVec
	classesUpsertedTotal prometheus.Counter
	dayReplayTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Safe to call more
// than once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetch_total",
				Help: "Total number of page fetches, labeled by method and outcome.",
			},
			[]string{"method", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		)

		validatorConfidence = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "validator_confidence",
				Help:    "Histogram of validator confidence scores.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)

		gateTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_gate_transitions_total",
				Help: "Total session gate transitions, labeled by transition kind.",
			},
			[]string{"transition"},
		)

		trapHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trap_hits_total",
				Help: "Total trap detector rejections, labeled by reason.",
			},
			[]string{"reason"},
		)

		classesUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "classes_upserted_total",
				Help: "Total number of class rows upserted to the sink.",
			},
		)

		dayReplayTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "day_replay_total",
				Help: "Total day-worker API replay attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records the outcome and latency of one fetch attempt.
func ObserveFetch(method, outcome string, duration time.Duration) {
	fetchesTotal.WithLabelValues(method, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveValidatorConfidence records one validator confidence score.
func ObserveValidatorConfidence(confidence float64) {
	validatorConfidence.Observe(confidence)
}

// ObserveGateTransition increments the gate transition counter for the
// given transition kind ("open", "close", "fail").
func ObserveGateTransition(transition string) {
	gateTransitionsTotal.WithLabelValues(transition).Inc()
}

// ObserveTrapHit increments the trap hit counter for the given reason.
func ObserveTrapHit(reason string) {
	trapHitsTotal.WithLabelValues(reason).Inc()
}

// ObserveClassesUpserted adds n to the classes-upserted counter.
func ObserveClassesUpserted(n int) {
	classesUpsertedTotal.Add(float64(n))
}

// ObserveDayReplay increments the day-replay counter for the given outcome
// ("success" or "failure").
func ObserveDayReplay(outcome string) {
	dayReplayTotal.WithLabelValues(outcome).Inc()
}
