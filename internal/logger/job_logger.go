// Package logger provides job lifecycle logging.
package logger

import (
	"github.com/sirupsen/logrus"
)

// JobLogger provides a dedicated trail of job admissions and transitions.
type JobLogger struct {
	*logrus.Entry
}

// NewJobLogger creates a new job logger.
func NewJobLogger(baseLogger *logrus.Logger) *JobLogger {
	return &JobLogger{
		Entry: baseLogger.WithField("component", "jobs"),
	}
}

// LogJobAdmitted logs an accepted job.
func (jl *JobLogger) LogJobAdmitted(jobID, clientID, tier, strategyID string) {
	jl.WithFields(logrus.Fields{
		"job_id":      jobID,
		"client_id":   clientID,
		"tier":        tier,
		"strategy_id": strategyID,
	}).Info("Backtest job admitted")
}

// LogQuotaRejected logs a job refused by quota.
func (jl *JobLogger) LogQuotaRejected(clientID, tier, reason string, limit int) {
	jl.WithFields(logrus.Fields{
		"client_id": clientID,
		"tier":      tier,
		"reason":    reason,
		"limit":     limit,
	}).Warn("Backtest job rejected by quota")
}

// LogStatusChange logs a job status transition.
func (jl *JobLogger) LogStatusChange(jobID, oldStatus, newStatus, message string) {
	jl.WithFields(logrus.Fields{
		"job_id":     jobID,
		"old_status": oldStatus,
		"new_status": newStatus,
		"message":    message,
	}).Info("Job status changed")
}

// LogCheckpointSaved logs a persisted checkpoint.
func (jl *JobLogger) LogCheckpointSaved(jobID string, lastRaceIndex, processed, total int) {
	jl.WithFields(logrus.Fields{
		"job_id":          jobID,
		"last_race_index": lastRaceIndex,
		"processed_races": processed,
		"total_races":     total,
	}).Debug("Checkpoint saved")
}

// LogJobFailed logs a classified failure. Internal failures carry the cause.
func (jl *JobLogger) LogJobFailed(jobID, code string, retryable bool, attempts int, cause error) {
	entry := jl.WithFields(logrus.Fields{
		"job_id":    jobID,
		"code":      code,
		"retryable": retryable,
		"attempts":  attempts,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	if retryable {
		entry.Warn("Backtest job attempt failed")
		return
	}
	entry.Error("Backtest job failed")
}

// LogRunOutcome logs the result of one worker invocation.
func (jl *JobLogger) LogRunOutcome(jobID, outcome string) {
	jl.WithFields(logrus.Fields{
		"job_id":  jobID,
		"outcome": outcome,
	}).Info("Worker invocation finished")
}
