// Package metrics defines strategy-specific metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Strategy-specific counter vectors
var (
	StrategyValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strategy_validations_total",
		Help:      "Total number of strategy validations by result",
	}, []string{"result"})

	StrategyMatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strategy_matches_total",
		Help:      "Total number of entries matched by strategy",
	}, []string{"strategy_id"})
)

// RecordStrategyValidation records a strategy validation.
func RecordStrategyValidation(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	StrategyValidationsTotal.WithLabelValues(result).Inc()
}

// RecordStrategyMatches records matched entries for a strategy.
func RecordStrategyMatches(strategyID string, count int) {
	if count <= 0 {
		return
	}
	StrategyMatchesTotal.WithLabelValues(strategyID).Add(float64(count))
}
