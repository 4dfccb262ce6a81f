// Package jobs runs backtests as resumable, quota-gated asynchronous jobs
// coordinated through a durable store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

// Quota periods
const (
	PeriodDaily   = "daily"
	PeriodMonthly = "monthly"
)

// Trigger asks a worker to run or continue a job
type Trigger struct {
	JobID    string    `json:"job_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// Dispatcher delivers triggers to workers
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger Trigger) error
}

// ResultArchive keeps completed results beyond the store retention
type ResultArchive interface {
	SaveResult(ctx context.Context, job *models.BacktestJob, result *models.BacktestResult) error
	GetResult(ctx context.Context, jobID string) (*models.BacktestResult, error)
}

// ManagerConfig holds job handling settings
type ManagerConfig struct {
	ExecutionBudget  time.Duration
	LeaseTTL         time.Duration
	ResultTTL        time.Duration
	MaxAttempts      int
	QuotaPeriod      string
	ProgressRate     float64
	MaxDateRangeDays int
}

// ManagerConfigFromConfig builds manager settings from application configuration
func ManagerConfigFromConfig(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		ExecutionBudget:  cfg.Jobs.ExecutionBudget(),
		LeaseTTL:         cfg.Jobs.LeaseTTL(),
		ResultTTL:        cfg.Jobs.ResultTTL(),
		MaxAttempts:      cfg.Jobs.MaxAttempts,
		QuotaPeriod:      cfg.Jobs.QuotaPeriod,
		ProgressRate:     cfg.Jobs.ProgressRatePerSecond,
		MaxDateRangeDays: cfg.Backtest.MaxDateRangeDays,
	}
}

// Validate checks the settings
func (c ManagerConfig) Validate() error {
	if c.ExecutionBudget <= 0 {
		return fmt.Errorf("execution budget must be positive")
	}
	if c.LeaseTTL < c.ExecutionBudget {
		return fmt.Errorf("lease TTL cannot be shorter than the execution budget")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.QuotaPeriod != PeriodDaily && c.QuotaPeriod != PeriodMonthly {
		return fmt.Errorf("unknown quota period %q", c.QuotaPeriod)
	}
	return nil
}

// Option configures optional manager collaborators
type Option func(*Manager)

// WithDispatcher sends a trigger for every admitted or continued job
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithArchive copies completed results to a long-term archive
func WithArchive(a ResultArchive) Option {
	return func(m *Manager) { m.archive = a }
}

// Manager owns the job lifecycle
type Manager struct {
	cfg        ManagerConfig
	store      Store
	tiers      TierSource
	executor   *backtest.Executor
	dispatcher Dispatcher
	archive    ResultArchive
	logger     *logger.JobLogger
	now        func() time.Time
}

// NewManager creates a job manager
func NewManager(cfg ManagerConfig, store Store, tiers TierSource, executor *backtest.Executor, log *logrus.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if tiers == nil {
		return nil, fmt.Errorf("tier source is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		tiers:    tiers,
		executor: executor,
		logger:   logger.NewJobLogger(log),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateJob validates a request, consumes quota and persists a pending job.
// Exhausted quota returns a QUOTA_EXCEEDED JobError and creates nothing.
func (m *Manager) CreateJob(ctx context.Context, req *models.BacktestRequest, clientID string) (*models.BacktestJob, error) {
	if clientID == "" {
		metrics.RecordJobAdmission("invalid")
		return nil, NewJobError(CodeValidation, "client id is required", nil)
	}
	if err := m.validateRequest(req); err != nil {
		metrics.RecordJobAdmission("invalid")
		return nil, err
	}

	tier, err := m.tiers.ResolveTier(ctx, clientID)
	if err != nil {
		return nil, Classify(err)
	}

	now := m.now().UTC()
	periodKey, periodTTL := quotaPeriod(now, m.cfg.QuotaPeriod)
	decision, err := m.store.ReserveQuota(ctx, QuotaRequest{
		ClientID:      clientID,
		PeriodKey:     periodKey,
		MaxPerPeriod:  tier.MaxBacktestsPerPeriod,
		MaxConcurrent: tier.MaxConcurrentJobs,
		PeriodTTL:     periodTTL,
	})
	if err != nil {
		metrics.RecordJobAdmission("error")
		return nil, Classify(err)
	}
	if !decision.Allowed {
		limit := tier.MaxBacktestsPerPeriod
		msg := fmt.Sprintf("%s limit of %d backtests reached for tier %s", m.cfg.QuotaPeriod, limit, tier.Name)
		if decision.Reason == QuotaReasonConcurrency {
			limit = tier.MaxConcurrentJobs
			msg = fmt.Sprintf("limit of %d concurrent backtests reached for tier %s", limit, tier.Name)
		}
		metrics.RecordJobAdmission("quota_exceeded")
		metrics.RecordQuotaRejection(tier.Name, decision.Reason)
		m.logger.LogQuotaRejected(clientID, tier.Name, decision.Reason, limit)
		return nil, NewJobError(CodeQuotaExceeded, msg, nil)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	job := &models.BacktestJob{
		JobID:     uuid.NewString(),
		ClientID:  clientID,
		Tier:      tier.Name,
		Status:    models.JobStatusPending,
		Priority:  priority,
		Request:   *req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job.Request.Priority = priority

	if err := m.store.CreateJob(ctx, job); err != nil {
		if releaseErr := m.store.ReleaseSlot(ctx, clientID); releaseErr != nil {
			m.logger.WithError(releaseErr).WithField("client_id", clientID).Warn("Failed to release concurrency slot")
		}
		return nil, Classify(err)
	}

	metrics.RecordJobAdmission("accepted")
	m.logger.LogJobAdmitted(job.JobID, clientID, tier.Name, req.Strategy.ID)
	m.dispatch(ctx, job.JobID)
	return job, nil
}

func (m *Manager) validateRequest(req *models.BacktestRequest) error {
	if err := backtest.ValidateRequest(req, m.cfg.MaxDateRangeDays); err != nil {
		return NewJobError(CodeValidation, err.Error(), err)
	}
	switch req.Priority {
	case "", models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		return NewJobError(CodeValidation, fmt.Sprintf("unknown priority %q", req.Priority), nil)
	}

	result := strategy.Validate(&req.Strategy)
	metrics.RecordStrategyValidation(result.Valid)
	if err := result.Err(); err != nil {
		return NewJobError(CodeValidation, err.Error(), err)
	}
	return nil
}

// GetJob returns the current job snapshot
func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.BacktestJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, m.storeError(jobID, err)
	}
	return job, nil
}

// GetResult returns the result of a completed job
func (m *Manager) GetResult(ctx context.Context, jobID string) (*models.BacktestResult, error) {
	result, err := m.store.GetResult(ctx, jobID)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, models.ErrNotFound) || m.archive == nil {
		return nil, m.storeError(jobID, err)
	}

	result, err = m.archive.GetResult(ctx, jobID)
	if err != nil {
		return nil, m.storeError(jobID, err)
	}
	return result, nil
}

// UpdateJobStatus moves a job to status. Setting the current status again is a no-op.
func (m *Manager) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, message string) (*models.BacktestJob, error) {
	return m.transition(ctx, jobID, status, func(job *models.BacktestJob) {
		if message != "" {
			job.Progress.Message = message
		}
	})
}

// UpdateJobProgress records progress. Regressions and updates on terminal
// jobs are ignored. The returned snapshot reflects the stored job.
func (m *Manager) UpdateJobProgress(ctx context.Context, jobID string, progress models.JobProgress) (*models.BacktestJob, error) {
	if progress.Percent < 0 {
		progress.Percent = 0
	}
	if progress.Percent > 100 {
		progress.Percent = 100
	}

	job, err := m.store.UpdateJob(ctx, jobID, func(job *models.BacktestJob) (bool, error) {
		if job.Status.IsTerminal() || progress.Percent < job.Progress.Percent {
			return false, nil
		}
		if progress == job.Progress {
			return false, nil
		}
		job.Progress = progress
		job.UpdatedAt = m.now().UTC()
		return true, nil
	})
	if err != nil {
		return nil, m.storeError(jobID, err)
	}
	return job, nil
}

// FailJob classifies cause and moves the job to failed
func (m *Manager) FailJob(ctx context.Context, jobID string, cause error) (*JobError, error) {
	jobErr := Classify(cause)
	if jobErr == nil {
		jobErr = NewJobError(CodeInternal, "job failed without a cause", nil)
	}

	job, err := m.transition(ctx, jobID, models.JobStatusFailed, func(job *models.BacktestJob) {
		job.Error = jobErr.Info()
	})
	if err != nil {
		return jobErr, err
	}
	m.logger.LogJobFailed(jobID, string(jobErr.Code), jobErr.Retryable, job.Attempts, cause)
	return jobErr, nil
}

// CancelJob moves a job to cancelled. A running worker stops at its next
// progress report.
func (m *Manager) CancelJob(ctx context.Context, jobID string) (*models.BacktestJob, error) {
	return m.transition(ctx, jobID, models.JobStatusCancelled, func(job *models.BacktestJob) {
		job.Progress.Message = "cancelled"
	})
}

// SaveCheckpoint persists the resume point of a job
func (m *Manager) SaveCheckpoint(ctx context.Context, cp *models.WorkerCheckpoint) error {
	if cp == nil || cp.JobID == "" {
		return fmt.Errorf("checkpoint without job id")
	}
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	metrics.RecordCheckpointSaved()
	m.logger.LogCheckpointSaved(cp.JobID, cp.LastRaceIndex, cp.ProcessedRaces, cp.TotalRaces)
	return nil
}

// GetCheckpoint returns the saved checkpoint of a job, or nil when none exists
func (m *Manager) GetCheckpoint(ctx context.Context, jobID string) (*models.WorkerCheckpoint, error) {
	cp, err := m.store.GetCheckpoint(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// DeleteCheckpoint removes the checkpoint of a job
func (m *Manager) DeleteCheckpoint(ctx context.Context, jobID string) error {
	return m.store.DeleteCheckpoint(ctx, jobID)
}

// transition applies a status change atomically and runs terminal cleanup once
func (m *Manager) transition(ctx context.Context, jobID string, to models.JobStatus, mutate func(*models.BacktestJob)) (*models.BacktestJob, error) {
	var from models.JobStatus
	job, err := m.store.UpdateJob(ctx, jobID, func(job *models.BacktestJob) (bool, error) {
		from = ""
		if job.Status == to {
			return false, nil
		}
		if !CanTransition(job.Status, to) {
			return false, NewJobError(CodeInvalidTransition,
				fmt.Sprintf("cannot move job from %s to %s", job.Status, to), nil)
		}

		from = job.Status
		now := m.now().UTC()
		job.Status = to
		job.UpdatedAt = now
		if to == models.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = &now
		}
		if to.IsTerminal() {
			job.CompletedAt = &now
		}
		if mutate != nil {
			mutate(job)
		}
		return true, nil
	})
	if err != nil {
		return nil, m.storeError(jobID, err)
	}
	if from == "" {
		return job, nil
	}

	metrics.RecordJobTransition(string(from), string(to))
	m.logger.LogStatusChange(jobID, string(from), string(to), job.Progress.Message)
	if to.IsTerminal() {
		m.cleanupTerminal(ctx, job)
	}
	return job, nil
}

// cleanupTerminal drops the checkpoint, lease and concurrency slot of a finished job
func (m *Manager) cleanupTerminal(ctx context.Context, job *models.BacktestJob) {
	ctx = context.WithoutCancel(ctx)
	entry := m.logger.WithField("job_id", job.JobID)
	if err := m.store.DeleteCheckpoint(ctx, job.JobID); err != nil {
		entry.WithError(err).Warn("Failed to delete checkpoint")
	}
	if err := m.store.ReleaseLease(ctx, job.JobID, ""); err != nil {
		entry.WithError(err).Warn("Failed to release lease")
	}
	if err := m.store.ReleaseSlot(ctx, job.ClientID); err != nil {
		entry.WithError(err).Warn("Failed to release concurrency slot")
	}
}

func (m *Manager) dispatch(ctx context.Context, jobID string) {
	if m.dispatcher == nil {
		return
	}
	trigger := Trigger{JobID: jobID, IssuedAt: m.now().UTC()}
	if err := m.dispatcher.Dispatch(ctx, trigger); err != nil {
		// The stale lease sweeper re-dispatches jobs whose trigger was lost
		m.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to dispatch trigger")
	}
}

func (m *Manager) storeError(jobID string, err error) error {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}
	if errors.Is(err, models.ErrNotFound) {
		return NewJobError(CodeNotFound, fmt.Sprintf("job %s not found", jobID), err)
	}
	return Classify(err)
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to models.JobStatus) bool {
	switch from {
	case models.JobStatusPending:
		return to == models.JobStatusRunning || to == models.JobStatusFailed || to == models.JobStatusCancelled
	case models.JobStatusRunning:
		return to == models.JobStatusCompleted || to == models.JobStatusFailed || to == models.JobStatusCancelled
	default:
		return false
	}
}

// quotaPeriod returns the counter key of the period containing now and how
// long the counter must live
func quotaPeriod(now time.Time, period string) (string, time.Duration) {
	if period == PeriodDaily {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01-02"), start.AddDate(0, 0, 1).Sub(now) + time.Hour
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start.Format("2006-01"), start.AddDate(0, 1, 0).Sub(now) + time.Hour
}
