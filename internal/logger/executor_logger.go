// Package logger provides executor-specific logging.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// ExecutorLogger provides dedicated logging for backtest execution.
type ExecutorLogger struct {
	*logrus.Entry
}

// NewExecutorLogger creates a new executor logger.
func NewExecutorLogger(baseLogger *logrus.Logger) *ExecutorLogger {
	return &ExecutorLogger{
		Entry: baseLogger.WithField("component", "executor"),
	}
}

// LogRunStarted logs the start or resumption of a run.
func (el *ExecutorLogger) LogRunStarted(jobID, strategyID, dateRange string, totalRaces, startIndex int) {
	el.WithFields(logrus.Fields{
		"job_id":      jobID,
		"strategy_id": strategyID,
		"date_range":  dateRange,
		"total_races": totalRaces,
		"start_index": startIndex,
		"resumed":     startIndex > 0,
	}).Info("Starting backtest run")
}

// LogRaceTransition logs a per-race state change at debug level.
func (el *ExecutorLogger) LogRaceTransition(raceID, from, to string) {
	el.WithFields(logrus.Fields{
		"race_id": raceID,
		"from":    from,
		"to":      to,
	}).Debug("Race state changed")
}

// LogBetSettled logs a settled simulated bet at debug level.
func (el *ExecutorLogger) LogBetSettled(betID, raceID string, entryNo int, stake, odds, netProfit float64, won bool) {
	el.WithFields(logrus.Fields{
		"bet_id":     betID,
		"race_id":    raceID,
		"entry_no":   entryNo,
		"stake":      stake,
		"odds":       odds,
		"net_profit": netProfit,
		"won":        won,
	}).Debug("Bet settled")
}

// LogRaceSkipped logs a race that could not be settled.
func (el *ExecutorLogger) LogRaceSkipped(raceID, reason string) {
	el.WithFields(logrus.Fields{
		"race_id": raceID,
		"reason":  reason,
	}).Warn("Race skipped")
}

// LogRunInterrupted logs a run stopped before the last race.
func (el *ExecutorLogger) LogRunInterrupted(jobID, reason string, processed, total int) {
	el.WithFields(logrus.Fields{
		"job_id":          jobID,
		"reason":          reason,
		"processed_races": processed,
		"total_races":     total,
	}).Info("Backtest run interrupted")
}

// LogRunCompleted logs a finished run.
func (el *ExecutorLogger) LogRunCompleted(jobID string, totalBets int, finalCapital, roi float64, duration time.Duration) {
	el.WithFields(logrus.Fields{
		"job_id":        jobID,
		"total_bets":    totalBets,
		"final_capital": finalCapital,
		"roi":           roi,
		"duration_ms":   duration.Milliseconds(),
	}).Info("Backtest run completed")
}
