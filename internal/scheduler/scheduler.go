package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSweepSchedule runs the stale lease sweep every minute
const DefaultSweepSchedule = "@every 1m"

// LeaseSweeper re-dispatches jobs whose worker trigger was lost
type LeaseSweeper interface {
	SweepStaleLeases(ctx context.Context) (int, error)
}

// Scheduler manages periodic maintenance jobs
type Scheduler struct {
	cron            *cron.Cron
	logger          *logrus.Entry
	mu              sync.RWMutex
	isRunning       bool
	jobIDs          []cron.EntryID
	gracefulTimeout time.Duration
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *logrus.Logger) *Scheduler {
	entry := logger.WithField("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:          entry,
		jobIDs:          make([]cron.EntryID, 0),
		gracefulTimeout: 30 * time.Second,
	}
}

// ScheduleLeaseSweep schedules the stale lease sweep. An empty expression
// uses DefaultSweepSchedule.
func (s *Scheduler) ScheduleLeaseSweep(cronExpression string, sweeper LeaseSweeper, timeout time.Duration) (cron.EntryID, error) {
	if sweeper == nil {
		return 0, fmt.Errorf("lease sweeper is required")
	}
	if cronExpression == "" {
		cronExpression = DefaultSweepSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return s.schedule(cronExpression, "lease_sweep", func() {
		s.SweepOnce(sweeper, timeout)
	})
}

// SweepOnce runs one sweep and logs what it did
func (s *Scheduler) SweepOnce(sweeper LeaseSweeper, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	dispatched, err := sweeper.SweepStaleLeases(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Stale lease sweep failed")
		return dispatched
	}
	if dispatched > 0 {
		s.logger.WithField("dispatched", dispatched).Warn("Stale lease sweep re-dispatched jobs")
	} else {
		s.logger.Debug("Stale lease sweep found nothing")
	}
	return dispatched
}

func (s *Scheduler) schedule(cronExpression, name string, fn func()) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return 0, fmt.Errorf("cannot schedule job while scheduler is running")
	}

	entryID, err := s.cron.AddFunc(cronExpression, fn)
	if err != nil {
		return 0, fmt.Errorf("failed to add job: %w", err)
	}

	s.jobIDs = append(s.jobIDs, entryID)
	s.logger.WithFields(logrus.Fields{
		"job":      name,
		"schedule": cronExpression,
	}).Info("Scheduled job")

	return entryID, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if len(s.jobIDs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")

	return nil
}

// Stop stops the scheduler, waiting up to the graceful timeout for running jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.isRunning = false
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.gracefulTimeout):
		return fmt.Errorf("scheduler stop timed out after %s", s.gracefulTimeout)
	}
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRun returns the time of the next scheduled job run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || len(s.jobIDs) == 0 {
		return time.Time{}
	}

	nextRun := time.Time{}
	for _, jobID := range s.jobIDs {
		entry := s.cron.Entry(jobID)
		if entry.Valid() {
			nextTime := entry.Next
			if nextRun.IsZero() || nextTime.Before(nextRun) {
				nextRun = nextTime
			}
		}
	}

	return nextRun
}
