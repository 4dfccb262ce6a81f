// Package metrics defines job lifecycle metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Job counter vectors
var (
	JobAdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_admissions_total",
		Help:      "Total number of job admission attempts by outcome",
	}, []string{"outcome"})

	QuotaRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_rejections_total",
		Help:      "Total number of jobs rejected by quota by tier and reason",
	}, []string{"tier", "reason"})

	JobTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_transitions_total",
		Help:      "Total number of job status transitions",
	}, []string{"from", "to"})

	JobRunOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_run_outcomes_total",
		Help:      "Total number of worker invocations by outcome",
	}, []string{"outcome"})

	WebhookRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Total number of inbound trigger requests by response code",
	}, []string{"code"})

	WebhookDispatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_dispatches_total",
		Help:      "Total number of outbound trigger dispatches by status",
	}, []string{"status"})
)

// RecordJobAdmission records a job admission attempt.
// outcome should be one of: "accepted", "invalid", "quota_exceeded", "error"
func RecordJobAdmission(outcome string) {
	JobAdmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuotaRejection records a quota rejection.
// reason should be one of: "period", "concurrency"
func RecordQuotaRejection(tier, reason string) {
	QuotaRejectionsTotal.WithLabelValues(tier, reason).Inc()
}

// RecordJobTransition records a job status transition.
func RecordJobTransition(from, to string) {
	JobTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordJobRunOutcome records the outcome of a worker invocation.
func RecordJobRunOutcome(outcome string) {
	JobRunOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordWebhookRequest records an inbound trigger response.
func RecordWebhookRequest(code string) {
	WebhookRequestsTotal.WithLabelValues(code).Inc()
}

// RecordWebhookDispatch records an outbound trigger dispatch.
func RecordWebhookDispatch(status string) {
	WebhookDispatchesTotal.WithLabelValues(status).Inc()
}
