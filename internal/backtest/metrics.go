package backtest

import (
	"math"
	"sort"

	"github.com/yourusername/clever-backtest/internal/models"
)

const (
	dayBucketLayout   = "2006-01-02"
	monthBucketLayout = "2006-01"
)

// MetricsConfig parameterizes the summary calculation
type MetricsConfig struct {
	InitialCapital      float64
	AnnualizationFactor float64
	RiskFreeRate        float64
}

// CalculateSummary derives performance statistics from a bet ledger and its
// equity curve. It is pure and returns zeros rather than NaN or Inf.
func CalculateSummary(bets []models.BetRecord, equity []models.EquityPoint, cfg MetricsConfig) models.BacktestSummary {
	summary := models.BacktestSummary{
		TotalBets:      len(bets),
		InitialCapital: cfg.InitialCapital,
		FinalCapital:   cfg.InitialCapital,
	}

	races := make(map[string]struct{})
	var wins, losses []float64
	for _, bet := range bets {
		races[bet.RaceID] = struct{}{}
		summary.TotalStaked += bet.Stake
		summary.TotalProfit += bet.NetProfit
		summary.TotalTax += bet.Tax
		if bet.Won {
			summary.WinningBets++
		} else {
			summary.LosingBets++
		}
		switch {
		case bet.NetProfit > 0:
			wins = append(wins, bet.NetProfit)
		case bet.NetProfit < 0:
			losses = append(losses, math.Abs(bet.NetProfit))
		}
	}
	summary.RacesWithBets = len(races)
	summary.FinalCapital = cfg.InitialCapital + summary.TotalProfit

	summary.WinRate = safeDiv(float64(summary.WinningBets), float64(summary.TotalBets))
	summary.ROI = safeDiv(summary.TotalProfit, summary.TotalStaked)

	grossWin := sum(wins)
	grossLoss := sum(losses)
	summary.ProfitFactor = safeDiv(grossWin, grossLoss)
	summary.AvgWin = average(wins)
	summary.AvgLoss = average(losses)
	summary.AvgWinLossRatio = safeDiv(summary.AvgWin, summary.AvgLoss)
	summary.LargestWin = maxOf(wins)
	summary.LargestLoss = maxOf(losses)
	summary.Expectancy = safeDiv(summary.TotalProfit, float64(summary.TotalBets))
	summary.LongestWinStreak, summary.LongestLossStreak = calculateStreaks(bets)

	summary.MaxDrawdown, summary.MaxDrawdownPct, summary.DrawdownPeriods = calculateDrawdowns(equity, cfg.InitialCapital)

	returns := EquityCurve(equity).GetReturns(cfg.InitialCapital)
	annualization := cfg.AnnualizationFactor
	if annualization <= 0 {
		annualization = 252
	}
	summary.SharpeRatio = calculateSharpeRatio(returns, cfg.RiskFreeRate, annualization)
	summary.SortinoRatio = calculateSortinoRatio(returns, cfg.RiskFreeRate, annualization)

	summary.DailyReturns = bucketReturns(bets, dayBucketLayout)
	summary.MonthlyReturns = bucketReturns(bets, monthBucketLayout)

	return summary
}

func calculateSharpeRatio(returns []float64, riskFreeRate, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := average(returns) - riskFreeRate/annualization
	return safeDiv(excess, stddev(returns)) * math.Sqrt(annualization)
}

func calculateSortinoRatio(returns []float64, riskFreeRate, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := average(returns) - riskFreeRate/annualization
	return safeDiv(excess, downsideDeviation(returns)) * math.Sqrt(annualization)
}

// calculateDrawdowns walks the equity curve seeded with the initial capital
// and returns the deepest drop in money and percent plus every drawdown period.
func calculateDrawdowns(equity []models.EquityPoint, initialCapital float64) (float64, float64, []models.DrawdownPeriod) {
	if len(equity) == 0 {
		return 0, 0, nil
	}

	var (
		maxDD, maxDDPct float64
		periods         []models.DrawdownPeriod
		open            *models.DrawdownPeriod
	)
	peak := initialCapital
	peakTime := equity[0].Timestamp
	trough := peak

	for _, p := range equity {
		if p.Capital >= peak {
			if open != nil {
				recovered := p.Timestamp
				open.Recovered = &recovered
				periods = append(periods, *open)
				open = nil
			}
			peak = p.Capital
			peakTime = p.Timestamp
			trough = peak
			continue
		}

		if open == nil {
			open = &models.DrawdownPeriod{Start: peakTime, Trough: p.Timestamp}
			trough = p.Capital
		}
		if p.Capital <= trough {
			trough = p.Capital
			open.Trough = p.Timestamp
			open.Depth = peak - trough
			open.DepthPct = safeDiv(open.Depth, peak) * 100
		}
		if open.Depth > maxDD {
			maxDD = open.Depth
		}
		if open.DepthPct > maxDDPct {
			maxDDPct = open.DepthPct
		}
	}
	if open != nil {
		periods = append(periods, *open)
	}
	return maxDD, maxDDPct, periods
}

func calculateStreaks(bets []models.BetRecord) (int, int) {
	var longestWin, longestLoss, win, loss int
	for _, bet := range bets {
		if bet.Won {
			win++
			loss = 0
		} else {
			loss++
			win = 0
		}
		if win > longestWin {
			longestWin = win
		}
		if loss > longestLoss {
			longestLoss = loss
		}
	}
	return longestWin, longestLoss
}

// equityReturns converts the curve into per-point simple returns
func equityReturns(equity []models.EquityPoint, initialCapital float64) []float64 {
	returns := make([]float64, 0, len(equity))
	prev := initialCapital
	for _, p := range equity {
		returns = append(returns, safeDiv(p.Capital-prev, prev))
		prev = p.Capital
	}
	return returns
}

// bucketReturns groups settled bets by calendar period of the race date
func bucketReturns(bets []models.BetRecord, layout string) []models.PeriodReturn {
	if len(bets) == 0 {
		return nil
	}

	buckets := make(map[string]*models.PeriodReturn)
	for _, bet := range bets {
		key := bet.RaceDate.UTC().Format(layout)
		b, ok := buckets[key]
		if !ok {
			b = &models.PeriodReturn{Period: key, StartCapital: bet.CapitalAfter - bet.NetProfit}
			buckets[key] = b
		}
		b.Profit += bet.NetProfit
		b.Bets++
	}

	out := make([]models.PeriodReturn, 0, len(buckets))
	for _, b := range buckets {
		b.Return = safeDiv(b.Profit, b.StartCapital)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	v := a / b
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func maxOf(values []float64) float64 {
	best := 0.0
	for _, v := range values {
		if v > best {
			best = v
		}
	}
	return best
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := average(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// downsideDeviation is the root mean square of negative returns over all periods
func downsideDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		if v < 0 {
			total += v * v
		}
	}
	return math.Sqrt(total / float64(len(values)))
}
