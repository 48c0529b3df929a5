// Package metrics provides Prometheus instrumentation for the recommender.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts completed cycles, partitioned by outcome.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opr_cycles_total",
		Help: "Total recommendation cycles by outcome",
	}, []string{"outcome"})

	// CycleFailures counts failed cycles by the stage that failed.
	CycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opr_cycle_failures_total",
		Help: "Failed cycles by stage",
	}, []string{"stage"})

	// CycleDuration tracks end-to-end cycle duration.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opr_cycle_duration_seconds",
		Help:    "End-to-end cycle duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// PositionsScored counts positions successfully scored per cycle.
	PositionsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opr_positions_scored_total",
		Help: "Positions successfully scored",
	})

	// PositionsExcluded counts per-position exclusions by reason class.
	PositionsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opr_positions_excluded_total",
		Help: "Positions excluded from ranking by reason",
	}, []string{"reason"})

	// RecommendationsEmitted counts emitted recommendations by action.
	RecommendationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opr_recommendations_emitted_total",
		Help: "Recommendations emitted by action",
	}, []string{"action"})

	// TicksDropped counts scheduler ticks skipped because a cycle was running.
	TicksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opr_ticks_dropped_total",
		Help: "Scheduler ticks dropped while a cycle was in flight",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one finished cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	CycleDuration.Observe(duration.Seconds())
}
