package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/clever-backtest/internal/models"
)

// GenerateConsoleReport formats a result for terminal output
func GenerateConsoleReport(result *models.BacktestResult) string {
	s := result.Summary

	var builder strings.Builder
	builder.WriteString("Backtest Report\n")
	builder.WriteString("================\n")
	builder.WriteString(fmt.Sprintf("Races: %d (with bets %d, skipped %d)\n", s.TotalRaces, s.RacesWithBets, s.SkippedRaces))
	builder.WriteString(fmt.Sprintf("Bets: %d (won %d, lost %d)\n", s.TotalBets, s.WinningBets, s.LosingBets))
	builder.WriteString(fmt.Sprintf("Win Rate: %.2f%%\n", s.WinRate*100))
	builder.WriteString(fmt.Sprintf("ROI: %.2f%%\n", s.ROI*100))
	builder.WriteString(fmt.Sprintf("Staked: %.2f\n", s.TotalStaked))
	builder.WriteString(fmt.Sprintf("Profit: %.2f (tax %.2f)\n", s.TotalProfit, s.TotalTax))
	builder.WriteString(fmt.Sprintf("Capital: %.2f -> %.2f\n", s.InitialCapital, s.FinalCapital))
	builder.WriteString(fmt.Sprintf("Max Drawdown: %.2f (%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPct))
	builder.WriteString(fmt.Sprintf("Sharpe Ratio: %.2f\n", s.SharpeRatio))
	builder.WriteString(fmt.Sprintf("Sortino Ratio: %.2f\n", s.SortinoRatio))
	builder.WriteString(fmt.Sprintf("Volatility: %.4f\n", EquityCurve(result.EquityCurve).GetVolatility(s.InitialCapital)))
	builder.WriteString(fmt.Sprintf("Profit Factor: %.2f\n", s.ProfitFactor))
	builder.WriteString(fmt.Sprintf("Avg Win / Avg Loss: %.2f / %.2f\n", s.AvgWin, s.AvgLoss))
	builder.WriteString(fmt.Sprintf("Streaks: %d wins, %d losses\n", s.LongestWinStreak, s.LongestLossStreak))

	if len(s.MonthlyReturns) > 0 {
		builder.WriteString("\nMonthly\n")
		for _, m := range s.MonthlyReturns {
			builder.WriteString(fmt.Sprintf("  %s  %10.2f  %6.2f%%  %d bets\n", m.Period, m.Profit, m.Return*100, m.Bets))
		}
	}

	if len(result.Warnings) > 0 {
		builder.WriteString(fmt.Sprintf("\nWarnings (%d)\n", len(result.Warnings)))
		for _, w := range result.Warnings {
			builder.WriteString("  - " + w + "\n")
		}
	}
	return builder.String()
}

// GenerateCSVExport writes the bet ledger for spreadsheets
func GenerateCSVExport(result *models.BacktestResult, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}

	var builder strings.Builder
	builder.WriteString("bet_id,race_id,race_date,entry_no,action,stake,odds,won,gross_payout,tax,net_profit,capital_after\n")
	for _, bet := range result.Bets {
		builder.WriteString(fmt.Sprintf("%s,%s,%s,%d,%s,%s,%s,%t,%s,%s,%s,%s\n",
			bet.BetID,
			bet.RaceID,
			bet.RaceDate.UTC().Format(dayBucketLayout),
			bet.EntryNo,
			bet.Action,
			formatFloat(bet.Stake),
			formatFloat(bet.Odds),
			bet.Won,
			formatFloat(bet.GrossPayout),
			formatFloat(bet.Tax),
			formatFloat(bet.NetProfit),
			formatFloat(bet.CapitalAfter),
		))
	}
	return os.WriteFile(outputPath, []byte(builder.String()), 0o644)
}
