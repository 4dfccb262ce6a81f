package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
)

const errScanBacktestResult = "failed to scan backtest result: %w"

// ResultSummary is one archived backtest as listed for a client
type ResultSummary struct {
	JobID           string
	ClientID        string
	StrategyID      string
	StrategyVersion string
	DateFrom        time.Time
	DateTo          time.Time
	TotalBets       int
	ROI             float64
	FinalCapital    float64
	CreatedAt       time.Time
}

// PostgresResultRepository archives completed backtests as JSONB rows.
// It implements jobs.ResultArchive.
type PostgresResultRepository struct {
	db *database.DB
}

// NewPostgresResultRepository creates a new backtest result repository
func NewPostgresResultRepository(db *database.DB) *PostgresResultRepository {
	return &PostgresResultRepository{db: db}
}

// SaveResult upserts the result of a job
func (r *PostgresResultRepository) SaveResult(ctx context.Context, job *models.BacktestJob, result *models.BacktestResult) error {
	query := `
		INSERT INTO backtest_results (
			job_id, client_id, strategy_id, strategy_version, date_from, date_to,
			total_bets, roi, final_capital, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO UPDATE SET
			total_bets = EXCLUDED.total_bets, roi = EXCLUDED.roi,
			final_capital = EXCLUDED.final_capital, result = EXCLUDED.result
	`

	_, err := r.db.Pool().Exec(ctx, query,
		job.JobID, job.ClientID, job.Request.Strategy.ID, job.Request.Strategy.Version,
		job.Request.DateRange.From, job.Request.DateRange.To,
		result.Summary.TotalBets, result.Summary.ROI, result.Summary.FinalCapital, result,
	)
	if err != nil {
		return fmt.Errorf("failed to save backtest result: %w", err)
	}
	return nil
}

// GetResult returns the archived result of a job
func (r *PostgresResultRepository) GetResult(ctx context.Context, jobID string) (*models.BacktestResult, error) {
	result := &models.BacktestResult{}
	err := r.db.Pool().QueryRow(ctx, `SELECT result FROM backtest_results WHERE job_id = $1`, jobID).Scan(result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("archived result %s: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest result: %w", err)
	}
	return result, nil
}

// ListByClient returns the most recent archived backtests of a client
func (r *PostgresResultRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]ResultSummary, error) {
	query := `
		SELECT job_id, client_id, strategy_id, strategy_version, date_from, date_to,
			total_bets, roi, final_capital, created_at
		FROM backtest_results WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Pool().Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var summaries []ResultSummary
	for rows.Next() {
		var s ResultSummary
		err := rows.Scan(&s.JobID, &s.ClientID, &s.StrategyID, &s.StrategyVersion, &s.DateFrom, &s.DateTo,
			&s.TotalBets, &s.ROI, &s.FinalCapital, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf(errScanBacktestResult, err)
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}
