package models

import "time"

// JobStatus is the lifecycle state of a backtest job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobProgress is the last reported progress of a running job
type JobProgress struct {
	Percent        float64 `json:"percent"`
	Message        string  `json:"message,omitempty"`
	ProcessedRaces int     `json:"processed_races"`
	TotalRaces     int     `json:"total_races"`
}

// JobErrorInfo is the classified failure recorded on a job
type JobErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// BacktestJob is the persisted record of an asynchronous backtest
type BacktestJob struct {
	JobID       string          `json:"job_id"`
	ClientID    string          `json:"client_id"`
	Tier        string          `json:"tier"`
	Status      JobStatus       `json:"status"`
	Priority    JobPriority     `json:"priority"`
	Progress    JobProgress     `json:"progress"`
	Attempts    int             `json:"attempts"`
	Error       *JobErrorInfo   `json:"error,omitempty"`
	ResultRef   string          `json:"result_ref,omitempty"`
	Request     BacktestRequest `json:"request"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// WorkerCheckpoint is enough state to resume a simulation after the last settled race
type WorkerCheckpoint struct {
	JobID          string        `json:"job_id"`
	LastRaceIndex  int           `json:"last_race_index"`
	LastRaceID     string        `json:"last_race_id"`
	LastRaceDate   time.Time     `json:"last_race_date"`
	Capital        float64       `json:"capital"`
	Bets           []BetRecord   `json:"bets"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	ProcessedRaces int           `json:"processed_races"`
	TotalRaces     int           `json:"total_races"`
	SkippedRaces   int           `json:"skipped_races"`
	Warnings       []string      `json:"warnings,omitempty"`
	SavedAt        time.Time     `json:"saved_at"`
}
