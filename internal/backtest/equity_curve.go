package backtest

import (
	"bytes"
	"strconv"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// EquityCurve is the capital after each race with at least one bet
type EquityCurve []models.EquityPoint

// GetReturns calculates per-point returns, seeded with the initial capital
func (e EquityCurve) GetReturns(initialCapital float64) []float64 {
	return equityReturns(e, initialCapital)
}

// GetVolatility calculates standard deviation of returns
func (e EquityCurve) GetVolatility(initialCapital float64) float64 {
	return stddev(e.GetReturns(initialCapital))
}

// ToCSV exports equity curve to CSV string
func (e EquityCurve) ToCSV() string {
	var buf bytes.Buffer
	buf.WriteString("timestamp,race_id,capital,cumulative_profit\n")
	for _, point := range e {
		buf.WriteString(point.Timestamp.UTC().Format(time.RFC3339))
		buf.WriteString(",")
		buf.WriteString(point.RaceID)
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.Capital))
		buf.WriteString(",")
		buf.WriteString(formatFloat(point.CumulativeProfit))
		buf.WriteString("\n")
	}
	return buf.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
