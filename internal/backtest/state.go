package backtest

import (
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// BacktestState tracks the ledger of a running simulation
type BacktestState struct {
	JobID          string
	InitialCapital float64
	Capital        float64
	PeakCapital    float64
	Bets           []models.BetRecord
	EquityCurve    []models.EquityPoint
	LastRaceIndex  int
	LastRaceID     string
	LastRaceDate   time.Time
	ProcessedRaces int
	TotalRaces     int
	SkippedRaces   int
	Warnings       []string
}

// NewBacktestState initializes backtest state
func NewBacktestState(jobID string, initialCapital float64, totalRaces int) *BacktestState {
	return &BacktestState{
		JobID:          jobID,
		InitialCapital: initialCapital,
		Capital:        initialCapital,
		PeakCapital:    initialCapital,
		Bets:           []models.BetRecord{},
		EquityCurve:    []models.EquityPoint{},
		LastRaceIndex:  -1,
		TotalRaces:     totalRaces,
	}
}

// RestoreState rebuilds state from a checkpoint
func RestoreState(cp *models.WorkerCheckpoint, initialCapital float64, totalRaces int) *BacktestState {
	state := NewBacktestState(cp.JobID, initialCapital, totalRaces)
	state.Capital = cp.Capital
	state.Bets = append(state.Bets, cp.Bets...)
	state.EquityCurve = append(state.EquityCurve, cp.EquityCurve...)
	state.LastRaceIndex = cp.LastRaceIndex
	state.LastRaceID = cp.LastRaceID
	state.LastRaceDate = cp.LastRaceDate
	state.ProcessedRaces = cp.ProcessedRaces
	state.SkippedRaces = cp.SkippedRaces
	state.Warnings = append(state.Warnings, cp.Warnings...)
	for _, point := range state.EquityCurve {
		if point.Capital > state.PeakCapital {
			state.PeakCapital = point.Capital
		}
	}
	return state
}

// ApplyBet records a settled bet and moves capital by its net profit
func (s *BacktestState) ApplyBet(bet models.BetRecord) models.BetRecord {
	s.Capital += bet.NetProfit
	if s.Capital > s.PeakCapital {
		s.PeakCapital = s.Capital
	}
	bet.CapitalAfter = s.Capital
	s.Bets = append(s.Bets, bet)
	return bet
}

// RecordEquityPoint adds an equity point to the curve
func (s *BacktestState) RecordEquityPoint(t time.Time, raceID string) {
	s.EquityCurve = append(s.EquityCurve, models.EquityPoint{
		Timestamp:        t,
		RaceID:           raceID,
		Capital:          s.Capital,
		CumulativeProfit: s.Capital - s.InitialCapital,
	})
}

// MarkProcessed advances the cursor past a fully handled race
func (s *BacktestState) MarkProcessed(index int, race *models.RaceContext) {
	s.LastRaceIndex = index
	s.LastRaceID = race.RaceID
	s.LastRaceDate = race.Date
	s.ProcessedRaces++
}

// Warn records a non-fatal problem
func (s *BacktestState) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// GetCurrentDrawdown calculates peak-to-trough drawdown as a fraction of the peak
func (s *BacktestState) GetCurrentDrawdown() float64 {
	if s.PeakCapital <= 0 {
		return 0
	}
	drawdown := (s.PeakCapital - s.Capital) / s.PeakCapital
	if drawdown < 0 {
		return 0
	}
	return drawdown
}

// Checkpoint snapshots the state after the last fully settled race
func (s *BacktestState) Checkpoint(savedAt time.Time) *models.WorkerCheckpoint {
	bets := make([]models.BetRecord, len(s.Bets))
	copy(bets, s.Bets)
	equity := make([]models.EquityPoint, len(s.EquityCurve))
	copy(equity, s.EquityCurve)
	var warnings []string
	if len(s.Warnings) > 0 {
		warnings = append(warnings, s.Warnings...)
	}

	return &models.WorkerCheckpoint{
		JobID:          s.JobID,
		LastRaceIndex:  s.LastRaceIndex,
		LastRaceID:     s.LastRaceID,
		LastRaceDate:   s.LastRaceDate,
		Capital:        s.Capital,
		Bets:           bets,
		EquityCurve:    equity,
		ProcessedRaces: s.ProcessedRaces,
		TotalRaces:     s.TotalRaces,
		SkippedRaces:   s.SkippedRaces,
		Warnings:       warnings,
		SavedAt:        savedAt,
	}
}
