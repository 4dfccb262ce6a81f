// Package metrics provides centralized Prometheus metrics registry for the backtest service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clever_backtest"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Executor counter metrics
var (
	RacesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "races_processed_total",
		Help:      "Total number of races processed by the executor by final race state",
	}, []string{"state"})
	BetsSettledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bets_settled_total",
		Help:      "Total number of simulated bets settled by action and outcome",
	}, []string{"action", "outcome"})
	CheckpointsSavedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkpoints_saved_total",
		Help:      "Total number of worker checkpoints persisted",
	})
)

// Histogram metrics
var (
	BacktestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backtest_duration_seconds",
		Help:      "Duration of a single executor invocation in seconds",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800},
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		// Register executor metrics
		registry.MustRegister(RacesProcessedTotal)
		registry.MustRegister(BetsSettledTotal)
		registry.MustRegister(CheckpointsSavedTotal)
		registry.MustRegister(BacktestDuration)

		// Register job metrics
		registry.MustRegister(JobAdmissionsTotal)
		registry.MustRegister(QuotaRejectionsTotal)
		registry.MustRegister(JobTransitionsTotal)
		registry.MustRegister(JobRunOutcomesTotal)
		registry.MustRegister(WebhookRequestsTotal)
		registry.MustRegister(WebhookDispatchesTotal)

		// Register strategy metrics
		registry.MustRegister(StrategyValidationsTotal)
		registry.MustRegister(StrategyMatchesTotal)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return InitRegistry()
	}
	return registry
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordRaceProcessed records the final state of a processed race.
func RecordRaceProcessed(state string) {
	RacesProcessedTotal.WithLabelValues(state).Inc()
}

// RecordBetSettled records a bet settlement event.
func RecordBetSettled(action string, won bool) {
	outcome := "lost"
	if won {
		outcome = "won"
	}
	BetsSettledTotal.WithLabelValues(action, outcome).Inc()
}

// RecordCheckpointSaved records a persisted checkpoint.
func RecordCheckpointSaved() {
	CheckpointsSavedTotal.Inc()
}

// RecordBacktestDuration records backtest duration.
func RecordBacktestDuration(durationSeconds float64) {
	BacktestDuration.Observe(durationSeconds)
}
