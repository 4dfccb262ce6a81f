package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

// ledger replays net profits into bets and an equity curve
func ledger(initial float64, stake float64, nets ...float64) ([]models.BetRecord, []models.EquityPoint) {
	capital := initial
	bets := make([]models.BetRecord, 0, len(nets))
	equity := make([]models.EquityPoint, 0, len(nets))
	for i, net := range nets {
		capital += net
		raceID := "R" + string(rune('A'+i))
		bets = append(bets, models.BetRecord{
			RaceID:       raceID,
			RaceDate:     day(i + 1),
			Stake:        stake,
			Won:          net > 0,
			NetProfit:    net,
			CapitalAfter: capital,
		})
		equity = append(equity, models.EquityPoint{
			Timestamp:        day(i + 1),
			RaceID:           raceID,
			Capital:          capital,
			CumulativeProfit: capital - initial,
		})
	}
	return bets, equity
}

func TestCalculateSummaryEmptyLedger(t *testing.T) {
	summary := CalculateSummary(nil, nil, MetricsConfig{InitialCapital: 1000})

	assert.Equal(t, 0, summary.TotalBets)
	assert.Equal(t, 1000.0, summary.FinalCapital)
	for name, v := range map[string]float64{
		"win rate":      summary.WinRate,
		"roi":           summary.ROI,
		"sharpe":        summary.SharpeRatio,
		"sortino":       summary.SortinoRatio,
		"profit factor": summary.ProfitFactor,
		"expectancy":    summary.Expectancy,
		"max drawdown":  summary.MaxDrawdown,
	} {
		assert.Equal(t, 0.0, v, name)
	}
	assert.Empty(t, summary.DrawdownPeriods)
	assert.Empty(t, summary.DailyReturns)
}

func TestCalculateSummary(t *testing.T) {
	bets, equity := ledger(10000, 1000, 1000, -1000, 500, -1000, -1000, 2500)
	summary := CalculateSummary(bets, equity, MetricsConfig{InitialCapital: 10000, AnnualizationFactor: 252})

	assert.Equal(t, 6, summary.TotalBets)
	assert.Equal(t, 6, summary.RacesWithBets)
	assert.Equal(t, 3, summary.WinningBets)
	assert.Equal(t, 3, summary.LosingBets)
	assert.InDelta(t, 0.5, summary.WinRate, 1e-9)
	assert.Equal(t, 6000.0, summary.TotalStaked)
	assert.Equal(t, 1000.0, summary.TotalProfit)
	assert.InDelta(t, 1000.0/6000.0, summary.ROI, 1e-9)
	assert.Equal(t, 11000.0, summary.FinalCapital)
	assert.InDelta(t, 4000.0/3000.0, summary.ProfitFactor, 1e-9)
	assert.InDelta(t, 4000.0/3, summary.AvgWin, 1e-9)
	assert.InDelta(t, 1000.0, summary.AvgLoss, 1e-9)
	assert.Equal(t, 2500.0, summary.LargestWin)
	assert.Equal(t, 1000.0, summary.LargestLoss)
	assert.InDelta(t, 1000.0/6, summary.Expectancy, 1e-9)
	assert.Equal(t, 1, summary.LongestWinStreak)
	assert.Equal(t, 2, summary.LongestLossStreak)

	// 11000 -> 10000 -> 10500 -> 9500 -> 8500 -> 11000
	assert.Equal(t, 2500.0, summary.MaxDrawdown)
	assert.InDelta(t, 2500.0/11000*100, summary.MaxDrawdownPct, 1e-9)
	require.Len(t, summary.DrawdownPeriods, 1)
	period := summary.DrawdownPeriods[0]
	assert.Equal(t, day(1), period.Start)
	assert.Equal(t, day(5), period.Trough)
	require.NotNil(t, period.Recovered)
	assert.Equal(t, day(6), *period.Recovered)

	assert.NotZero(t, summary.SharpeRatio)
	assert.NotZero(t, summary.SortinoRatio)
	assert.False(t, math.IsNaN(summary.SharpeRatio))

	require.Len(t, summary.DailyReturns, 6)
	assert.Equal(t, "2024-03-01", summary.DailyReturns[0].Period)
	assert.Equal(t, 10000.0, summary.DailyReturns[0].StartCapital)
	assert.InDelta(t, 0.1, summary.DailyReturns[0].Return, 1e-9)
	require.Len(t, summary.MonthlyReturns, 1)
	assert.Equal(t, "2024-03", summary.MonthlyReturns[0].Period)
	assert.Equal(t, 1000.0, summary.MonthlyReturns[0].Profit)
	assert.Equal(t, 6, summary.MonthlyReturns[0].Bets)
}

func TestCalculateSummaryOpenDrawdown(t *testing.T) {
	bets, equity := ledger(1000, 100, -100, -100)
	summary := CalculateSummary(bets, equity, MetricsConfig{InitialCapital: 1000})

	require.Len(t, summary.DrawdownPeriods, 1)
	assert.Nil(t, summary.DrawdownPeriods[0].Recovered)
	assert.Equal(t, 200.0, summary.MaxDrawdown)
	assert.InDelta(t, 20.0, summary.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 0.0, summary.ProfitFactor, "no winners")
	assert.Equal(t, 0.0, summary.AvgWinLossRatio)
}

func TestCalculateSummaryNoLossesGuardsDivision(t *testing.T) {
	bets, equity := ledger(1000, 100, 50, 50)
	summary := CalculateSummary(bets, equity, MetricsConfig{InitialCapital: 1000})

	assert.Equal(t, 0.0, summary.ProfitFactor)
	assert.Equal(t, 0.0, summary.AvgWinLossRatio)
	assert.Equal(t, 0.0, summary.SortinoRatio)
	assert.Equal(t, 0.0, summary.MaxDrawdown)
	assert.Empty(t, summary.DrawdownPeriods)
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 0.0, safeDiv(1, 0))
	assert.Equal(t, 0.0, safeDiv(math.Inf(1), 1))
	assert.Equal(t, 2.0, safeDiv(4, 2))
}

func TestEquityCurveToCSV(t *testing.T) {
	_, equity := ledger(1000, 100, 50)
	csv := EquityCurve(equity).ToCSV()
	assert.Equal(t, "timestamp,race_id,capital,cumulative_profit\n2024-03-01T12:00:00Z,RA,1050.00,50.00\n", csv)
}
