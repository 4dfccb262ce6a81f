package models

import (
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days
type DateRange struct {
	From time.Time `json:"from" validate:"required"`
	To   time.Time `json:"to" validate:"required"`
}

// Days returns the number of calendar days covered by the range
func (d DateRange) Days() int {
	if d.To.Before(d.From) {
		return 0
	}
	return int(d.To.Sub(d.From).Hours()/24) + 1
}

// Contains reports whether t falls on a day inside the range
func (d DateRange) Contains(t time.Time) bool {
	day := t.UTC().Format(dateLayout)
	return day >= d.From.UTC().Format(dateLayout) && day <= d.To.UTC().Format(dateLayout)
}

func (d DateRange) String() string {
	return d.From.Format(dateLayout) + ".." + d.To.Format(dateLayout)
}

// JobPriority orders queued backtests
type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
)

// BacktestRequest describes one simulation to run
type BacktestRequest struct {
	Strategy       StrategyDefinition `json:"strategy" validate:"required"`
	DateRange      DateRange          `json:"date_range" validate:"required"`
	InitialCapital float64            `json:"initial_capital" validate:"required,gt=0"`
	Tracks         []string           `json:"tracks,omitempty"`
	RaceTypes      []string           `json:"race_types,omitempty"`
	Priority       JobPriority        `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
}

// BetRecord is a single settled simulated bet
type BetRecord struct {
	BetID        string    `json:"bet_id"`
	RaceID       string    `json:"race_id"`
	EntryNo      int       `json:"entry_no"`
	RaceDate     time.Time `json:"race_date"`
	Action       BetAction `json:"action"`
	Stake        float64   `json:"stake"`
	Odds         float64   `json:"odds"`
	Won          bool      `json:"won"`
	GrossPayout  float64   `json:"gross_payout"`
	Tax          float64   `json:"tax"`
	NetProfit    float64   `json:"net_profit"`
	CapitalAfter float64   `json:"capital_after"`
	Score        *float64  `json:"score,omitempty"`
	PlacedAt     time.Time `json:"placed_at"`
}

// EquityPoint is the capital after a race in which at least one bet settled
type EquityPoint struct {
	Timestamp        time.Time `json:"timestamp"`
	RaceID           string    `json:"race_id"`
	Capital          float64   `json:"capital"`
	CumulativeProfit float64   `json:"cumulative_profit"`
}

// DrawdownPeriod is a peak-to-recovery stretch of the equity curve
type DrawdownPeriod struct {
	Start     time.Time  `json:"start"`
	Trough    time.Time  `json:"trough"`
	Recovered *time.Time `json:"recovered,omitempty"`
	Depth     float64    `json:"depth"`
	DepthPct  float64    `json:"depth_pct"`
}

// PeriodReturn is profit bucketed by day or month
type PeriodReturn struct {
	Period       string  `json:"period"`
	Profit       float64 `json:"profit"`
	Return       float64 `json:"return"`
	Bets         int     `json:"bets"`
	StartCapital float64 `json:"start_capital"`
}

// BacktestSummary holds the headline numbers of a simulation
type BacktestSummary struct {
	TotalRaces        int              `json:"total_races"`
	RacesWithBets     int              `json:"races_with_bets"`
	SkippedRaces      int              `json:"skipped_races"`
	TotalBets         int              `json:"total_bets"`
	WinningBets       int              `json:"winning_bets"`
	LosingBets        int              `json:"losing_bets"`
	WinRate           float64          `json:"win_rate"`
	ROI               float64          `json:"roi"`
	TotalStaked       float64          `json:"total_staked"`
	TotalProfit       float64          `json:"total_profit"`
	TotalTax          float64          `json:"total_tax"`
	InitialCapital    float64          `json:"initial_capital"`
	FinalCapital      float64          `json:"final_capital"`
	MaxDrawdown       float64          `json:"max_drawdown"`
	MaxDrawdownPct    float64          `json:"max_drawdown_pct"`
	DrawdownPeriods   []DrawdownPeriod `json:"drawdown_periods,omitempty"`
	LongestWinStreak  int              `json:"longest_win_streak"`
	LongestLossStreak int              `json:"longest_loss_streak"`
	SharpeRatio       float64          `json:"sharpe_ratio"`
	SortinoRatio      float64          `json:"sortino_ratio"`
	ProfitFactor      float64          `json:"profit_factor"`
	AvgWin            float64          `json:"avg_win"`
	AvgLoss           float64          `json:"avg_loss"`
	AvgWinLossRatio   float64          `json:"avg_win_loss_ratio"`
	LargestWin        float64          `json:"largest_win"`
	LargestLoss       float64          `json:"largest_loss"`
	Expectancy        float64          `json:"expectancy"`
	DailyReturns      []PeriodReturn   `json:"daily_returns,omitempty"`
	MonthlyReturns    []PeriodReturn   `json:"monthly_returns,omitempty"`
}

// BacktestResult is the full output of a simulation
type BacktestResult struct {
	Summary     BacktestSummary `json:"summary"`
	Bets        []BetRecord     `json:"bets"`
	EquityCurve []EquityPoint   `json:"equity_curve"`
	Warnings    []string        `json:"warnings,omitempty"`
}
