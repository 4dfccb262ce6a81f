package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"golang.org/x/time/rate"
)

// RunOutcome is what a worker invocation did with a trigger
type RunOutcome string

const (
	OutcomeNoop      RunOutcome = "noop"
	OutcomeDuplicate RunOutcome = "duplicate"
	OutcomeContinue  RunOutcome = "continue"
	OutcomeRetry     RunOutcome = "retry"
	OutcomeCompleted RunOutcome = "completed"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeCancelled RunOutcome = "cancelled"
)

// errJobCancelled stops the executor once the job was cancelled elsewhere
var errJobCancelled = errors.New("job cancelled")

// RunJob is the worker entry. It runs the job for at most one execution
// budget and reports what happened. Retry and failure outcomes also return
// the classified *JobError.
func (m *Manager) RunJob(ctx context.Context, trigger Trigger) (RunOutcome, error) {
	outcome, err := m.runJob(ctx, trigger)
	metrics.RecordJobRunOutcome(string(outcome))
	m.logger.LogRunOutcome(trigger.JobID, string(outcome))
	return outcome, err
}

func (m *Manager) runJob(ctx context.Context, trigger Trigger) (RunOutcome, error) {
	job, err := m.GetJob(ctx, trigger.JobID)
	if HasCode(err, CodeNotFound) {
		return OutcomeFailed, err
	}
	if err != nil {
		return OutcomeRetry, err
	}
	if job.Status.IsTerminal() {
		return OutcomeNoop, nil
	}

	owner := uuid.NewString()
	acquired, err := m.store.AcquireLease(ctx, job.JobID, owner, m.cfg.LeaseTTL)
	if err != nil {
		return OutcomeRetry, Classify(err)
	}
	if !acquired {
		return OutcomeDuplicate, nil
	}
	defer m.releaseLease(ctx, job.JobID, owner)

	if job.Status == models.JobStatusPending {
		job, err = m.transition(ctx, job.JobID, models.JobStatusRunning, func(j *models.BacktestJob) {
			j.Progress.Message = "started"
		})
		if HasCode(err, CodeInvalidTransition) {
			return OutcomeNoop, nil
		}
		if err != nil {
			return OutcomeRetry, err
		}
		if job.Status != models.JobStatusRunning {
			return OutcomeNoop, nil
		}
	}

	checkpoint, err := m.GetCheckpoint(ctx, job.JobID)
	if err != nil {
		return OutcomeRetry, Classify(err)
	}

	outcome, runErr := m.executor.Execute(ctx, &job.Request, backtest.ExecuteOptions{
		JobID:        job.JobID,
		Resume:       checkpoint,
		Deadline:     time.Now().Add(m.cfg.ExecutionBudget),
		OnProgress:   m.progressReporter(ctx, job.JobID),
		OnCheckpoint: func(cp *models.WorkerCheckpoint) error { return m.SaveCheckpoint(ctx, cp) },
	})

	switch {
	case runErr != nil && errors.Is(runErr, errJobCancelled):
		m.dropCheckpoint(ctx, job.JobID)
		return OutcomeCancelled, nil
	case runErr != nil:
		m.saveCheckpointAfterError(ctx, job.JobID, outcome)
		if ctx.Err() != nil {
			// The invocation itself was stopped; the attempt does not count
			return OutcomeRetry, NewJobError(CodeTimeout, "worker invocation cancelled", runErr)
		}
		return m.handleFailure(context.WithoutCancel(ctx), job, runErr)
	case outcome.Completed:
		return m.complete(ctx, job, outcome.Result)
	default:
		err := m.SaveCheckpoint(ctx, outcome.Checkpoint)
		if errors.Is(err, ErrJobFinished) {
			return OutcomeCancelled, nil
		}
		if err != nil {
			return m.handleFailure(ctx, job, err)
		}
		if _, err := m.UpdateJobProgress(ctx, job.JobID, progressFromCheckpoint(outcome.Checkpoint)); err != nil {
			m.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to record progress")
		}
		m.releaseLease(ctx, job.JobID, owner)
		m.dispatch(ctx, job.JobID)
		return OutcomeContinue, nil
	}
}

// progressReporter throttles progress writes and stops the run when the
// job is no longer running. Throttled updates still check the status.
func (m *Manager) progressReporter(ctx context.Context, jobID string) func(backtest.ProgressUpdate) error {
	limit := rate.Inf
	if m.cfg.ProgressRate > 0 {
		limit = rate.Limit(m.cfg.ProgressRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	return func(update backtest.ProgressUpdate) error {
		if !limiter.Allow() {
			job, err := m.store.GetJob(ctx, jobID)
			if err != nil {
				m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to check job status")
				return nil
			}
			if job.Status != models.JobStatusRunning {
				return errJobCancelled
			}
			return nil
		}
		job, err := m.UpdateJobProgress(ctx, jobID, models.JobProgress{
			Percent:        update.Percent,
			Message:        update.Message,
			ProcessedRaces: update.ProcessedRaces,
			TotalRaces:     update.TotalRaces,
		})
		if err != nil {
			m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to record progress")
			return nil
		}
		if job.Status != models.JobStatusRunning {
			return errJobCancelled
		}
		return nil
	}
}

// complete stores the result and marks the job completed. A job that was
// cancelled meanwhile keeps neither a result nor a checkpoint.
func (m *Manager) complete(ctx context.Context, job *models.BacktestJob, result *models.BacktestResult) (RunOutcome, error) {
	err := m.store.SaveResult(ctx, job.JobID, result, m.cfg.ResultTTL)
	if errors.Is(err, ErrJobFinished) {
		m.dropCheckpoint(ctx, job.JobID)
		return OutcomeCancelled, nil
	}
	if err != nil {
		return m.handleFailure(ctx, job, fmt.Errorf("failed to save result: %w", err))
	}

	completed, err := m.transition(ctx, job.JobID, models.JobStatusCompleted, func(j *models.BacktestJob) {
		j.ResultRef = job.JobID
		j.Error = nil
		j.Progress = models.JobProgress{
			Percent:        100,
			Message:        "completed",
			ProcessedRaces: result.Summary.TotalRaces,
			TotalRaces:     result.Summary.TotalRaces,
		}
	})
	if HasCode(err, CodeInvalidTransition) {
		m.dropResult(ctx, job.JobID)
		m.dropCheckpoint(ctx, job.JobID)
		return OutcomeNoop, nil
	}
	if err != nil {
		return OutcomeRetry, err
	}

	if m.archive != nil {
		if err := m.archive.SaveResult(ctx, completed, result); err != nil {
			m.logger.WithError(err).WithField("job_id", job.JobID).Warn("Failed to archive result")
		}
	}
	return OutcomeCompleted, nil
}

// handleFailure keeps retryable failures running until attempts run out
func (m *Manager) handleFailure(ctx context.Context, job *models.BacktestJob, cause error) (RunOutcome, error) {
	jobErr := Classify(cause)
	if jobErr.Code == CodeInternal {
		m.logger.WithError(cause).WithFields(logrus.Fields{
			"job_id":    job.JobID,
			"client_id": job.ClientID,
		}).Error("Internal backtest failure")
	}

	if jobErr.Retryable {
		updated, err := m.store.UpdateJob(ctx, job.JobID, func(j *models.BacktestJob) (bool, error) {
			if j.Status.IsTerminal() {
				return false, nil
			}
			j.Attempts++
			j.Error = jobErr.Info()
			j.UpdatedAt = m.now().UTC()
			return true, nil
		})
		if err != nil {
			return OutcomeRetry, m.storeError(job.JobID, err)
		}
		if updated.Status.IsTerminal() {
			return OutcomeNoop, nil
		}
		if updated.Attempts < m.cfg.MaxAttempts {
			m.logger.LogJobFailed(job.JobID, string(jobErr.Code), true, updated.Attempts, cause)
			return OutcomeRetry, jobErr
		}
	}

	if _, err := m.FailJob(ctx, job.JobID, jobErr); err != nil && !HasCode(err, CodeInvalidTransition) {
		return OutcomeFailed, err
	}
	return OutcomeFailed, jobErr
}

func (m *Manager) saveCheckpointAfterError(ctx context.Context, jobID string, outcome *backtest.Outcome) {
	if outcome == nil || outcome.Checkpoint == nil {
		return
	}
	err := m.SaveCheckpoint(context.WithoutCancel(ctx), outcome.Checkpoint)
	if err != nil && !errors.Is(err, ErrJobFinished) {
		m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to save checkpoint after error")
	}
}

// dropCheckpoint repeats the terminal cleanup for a run that lost the race
// against a cancellation
func (m *Manager) dropCheckpoint(ctx context.Context, jobID string) {
	if err := m.store.DeleteCheckpoint(context.WithoutCancel(ctx), jobID); err != nil {
		m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to delete checkpoint")
	}
}

func (m *Manager) dropResult(ctx context.Context, jobID string) {
	if err := m.store.DeleteResult(context.WithoutCancel(ctx), jobID); err != nil {
		m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to delete result")
	}
}

func (m *Manager) releaseLease(ctx context.Context, jobID, owner string) {
	if err := m.store.ReleaseLease(context.WithoutCancel(ctx), jobID, owner); err != nil {
		m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to release lease")
	}
}

// SweepStaleLeases re-dispatches unfinished jobs that nobody is working on
// and that have not been touched for a full lease period. It returns the
// number of jobs dispatched.
func (m *Manager) SweepStaleLeases(ctx context.Context) (int, error) {
	if m.dispatcher == nil {
		return 0, nil
	}

	ids, err := m.store.ActiveJobIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	dispatched := 0
	for _, id := range ids {
		job, err := m.store.GetJob(ctx, id)
		if err != nil {
			m.logger.WithError(err).WithField("job_id", id).Warn("Failed to load active job")
			continue
		}
		if job.Status.IsTerminal() || now.Sub(job.UpdatedAt) < m.cfg.LeaseTTL {
			continue
		}
		held, err := m.store.LeaseHeld(ctx, id)
		if err != nil {
			return dispatched, err
		}
		if held {
			continue
		}
		m.logger.WithField("job_id", id).WithField("status", job.Status).Warn("Re-dispatching stale job")
		m.dispatch(ctx, id)
		dispatched++
	}
	return dispatched, nil
}

func progressFromCheckpoint(cp *models.WorkerCheckpoint) models.JobProgress {
	percent := 0.0
	if cp.TotalRaces > 0 {
		percent = float64(cp.ProcessedRaces) / float64(cp.TotalRaces) * 100
	}
	return models.JobProgress{
		Percent:        percent,
		Message:        fmt.Sprintf("processed %d/%d races", cp.ProcessedRaces, cp.TotalRaces),
		ProcessedRaces: cp.ProcessedRaces,
		TotalRaces:     cp.TotalRaces,
	}
}
