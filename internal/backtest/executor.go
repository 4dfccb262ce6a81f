// Package backtest replays a validated strategy over historical races and
// settles simulated bets against official results.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/logger"
	"github.com/yourusername/clever-backtest/internal/metrics"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

// Per-race states
const (
	RaceStatePending   = "PENDING"
	RaceStateEvaluated = "EVALUATED"
	RaceStateNoBet     = "NO_BET"
	RaceStateBetPlaced = "BET_PLACED"
	RaceStateSettled   = "SETTLED"
	RaceStateSkipped   = "SKIPPED"
)

// betNamespace seeds deterministic bet identifiers
var betNamespace = uuid.MustParse("6f1c2b9e-4d0a-5b7e-9c3f-2a8d1e6b4f70")

// ProgressUpdate is reported to the caller while a run advances
type ProgressUpdate struct {
	Percent        float64
	Message        string
	ProcessedRaces int
	TotalRaces     int
	Capital        float64
}

// ExecuteOptions controls a single invocation of the executor
type ExecuteOptions struct {
	JobID    string
	Resume   *models.WorkerCheckpoint
	Deadline time.Time
	// OnProgress returning an error stops the run before the next race.
	OnProgress   func(ProgressUpdate) error
	OnCheckpoint func(*models.WorkerCheckpoint) error
}

// Outcome is the result of one invocation. Exactly one of Result and
// Checkpoint is set.
type Outcome struct {
	Completed  bool
	Result     *models.BacktestResult
	Checkpoint *models.WorkerCheckpoint
}

// Executor runs strategies over historical races
type Executor struct {
	cfg    ExecutorConfig
	source RaceSource
	logger *logger.ExecutorLogger
	now    func() time.Time
}

// NewExecutor creates a new backtest executor
func NewExecutor(cfg ExecutorConfig, source RaceSource, log *logrus.Logger) (*Executor, error) {
	if source == nil {
		return nil, fmt.Errorf("race source is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{
		cfg:    cfg,
		source: source,
		logger: logger.NewExecutorLogger(log),
		now:    time.Now,
	}, nil
}

// Config returns the executor settings
func (e *Executor) Config() ExecutorConfig {
	return e.cfg
}

// Execute runs or resumes a backtest. It returns a completed outcome, an
// interrupted outcome carrying a checkpoint, or an error. Source errors and
// cancellation return the checkpoint of the last settled race alongside the error.
func (e *Executor) Execute(ctx context.Context, req *models.BacktestRequest, opts ExecuteOptions) (*Outcome, error) {
	if err := e.checkRequest(req); err != nil {
		return nil, err
	}

	compiled, err := strategy.Compile(&req.Strategy)
	if err != nil {
		return nil, err
	}
	def := compiled.Definition()

	races, err := e.source.GetRaces(ctx, req.DateRange, RaceFilters{Tracks: req.Tracks, RaceTypes: req.RaceTypes})
	if err != nil {
		return nil, &SourceError{Op: "get races", Err: err}
	}
	races = orderRaces(races)

	state := NewBacktestState(opts.JobID, req.InitialCapital, len(races))
	start := 0
	if opts.Resume != nil {
		start = resumeIndex(races, opts.Resume)
		state = RestoreState(opts.Resume, req.InitialCapital, len(races))
		state.JobID = opts.JobID
		state.LastRaceIndex = start - 1
	}

	e.logger.LogRunStarted(opts.JobID, def.ID, req.DateRange.String(), len(races), start)
	startedAt := e.now()
	defer func() {
		metrics.RecordBacktestDuration(e.now().Sub(startedAt).Seconds())
	}()

	run := &raceRun{
		compiled:   compiled,
		strategyID: def.ID,
		policy:     def.StakePolicyOrDefault(),
		action:     def.Action,
		jobID:      opts.JobID,
	}

	lastProgress := startedAt
	processedThisRun := 0
	for i := start; i < len(races); i++ {
		if err := ctx.Err(); err != nil {
			e.logger.LogRunInterrupted(opts.JobID, err.Error(), state.ProcessedRaces, state.TotalRaces)
			return &Outcome{Checkpoint: state.Checkpoint(e.now())}, err
		}
		if processedThisRun > 0 && !opts.Deadline.IsZero() && !e.now().Before(opts.Deadline) {
			e.logger.LogRunInterrupted(opts.JobID, "execution budget exhausted", state.ProcessedRaces, state.TotalRaces)
			return &Outcome{Checkpoint: state.Checkpoint(e.now())}, nil
		}

		race := &races[i]
		if err := e.processRace(ctx, run, race, state); err != nil {
			var internal *InternalError
			if errors.As(err, &internal) {
				internal.Partial = e.buildResult(state, req)
				return nil, internal
			}
			return &Outcome{Checkpoint: state.Checkpoint(e.now())}, err
		}
		state.MarkProcessed(i, race)
		processedThisRun++

		if opts.OnProgress != nil {
			now := e.now()
			if state.ProcessedRaces%e.cfg.ProgressEvery == 0 || (e.cfg.ProgressInterval > 0 && now.Sub(lastProgress) >= e.cfg.ProgressInterval) {
				lastProgress = now
				if err := opts.OnProgress(progressOf(state)); err != nil {
					e.logger.LogRunInterrupted(opts.JobID, err.Error(), state.ProcessedRaces, state.TotalRaces)
					return &Outcome{Checkpoint: state.Checkpoint(now)}, fmt.Errorf("backtest stopped: %w", err)
				}
			}
		}

		if opts.OnCheckpoint != nil && state.ProcessedRaces%e.cfg.CheckpointEvery == 0 && i < len(races)-1 {
			if err := opts.OnCheckpoint(state.Checkpoint(e.now())); err != nil {
				e.logger.WithError(err).WithField("job_id", opts.JobID).Warn("Failed to save periodic checkpoint")
			}
		}
	}

	result := e.buildResult(state, req)
	e.logger.LogRunCompleted(opts.JobID, result.Summary.TotalBets, result.Summary.FinalCapital, result.Summary.ROI, e.now().Sub(startedAt))
	return &Outcome{Completed: true, Result: result}, nil
}

func (e *Executor) checkRequest(req *models.BacktestRequest) error {
	return ValidateRequest(req, e.cfg.MaxDateRangeDays)
}

// ValidateRequest checks the parts of a request the strategy validator does
// not cover. Failures wrap ErrInvalidRequest.
func ValidateRequest(req *models.BacktestRequest, maxDays int) error {
	if req == nil {
		return invalidRequest("request is required")
	}
	if req.InitialCapital <= 0 || math.IsNaN(req.InitialCapital) || math.IsInf(req.InitialCapital, 0) {
		return invalidRequest("initial capital must be a positive number")
	}
	if req.DateRange.From.IsZero() || req.DateRange.To.IsZero() {
		return invalidRequest("date range is required")
	}
	if req.DateRange.To.Before(req.DateRange.From) {
		return invalidRequest("date range end %s is before start", req.DateRange.To.Format(dayBucketLayout))
	}
	if days := req.DateRange.Days(); maxDays > 0 && days > maxDays {
		return invalidRequest("date range of %d days exceeds maximum of %d", days, maxDays)
	}
	return nil
}

// raceRun holds what stays fixed for every race of a run
type raceRun struct {
	compiled   *strategy.Compiled
	strategyID string
	policy     models.StakePolicy
	action     models.BetAction
	jobID      string
}

func (e *Executor) processRace(ctx context.Context, run *raceRun, race *models.RaceContext, state *BacktestState) error {
	matches := run.compiled.EvaluateRace(race)
	e.logger.LogRaceTransition(race.RaceID, RaceStatePending, RaceStateEvaluated)
	metrics.RecordStrategyMatches(run.strategyID, len(matches))

	if len(matches) == 0 || state.Capital <= 0 {
		e.finishRace(race.RaceID, RaceStateEvaluated, RaceStateNoBet)
		return nil
	}

	result, err := e.source.GetResult(ctx, race.RaceID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return &SourceError{Op: "get result", Err: err}
	}
	if err != nil || result == nil {
		e.skipRace(race.RaceID, "no official result", state)
		return nil
	}
	for _, m := range matches {
		if _, ok := result.Position(m.Entry.EntryNo); !ok {
			e.skipRace(race.RaceID, fmt.Sprintf("entry %d missing from result", m.Entry.EntryNo), state)
			return nil
		}
	}

	placeCount := result.EffectivePlaceCount(len(race.Entries))
	capitalAtStart := state.Capital
	committed := 0.0
	bets := make([]models.BetRecord, 0, len(matches))

	for _, m := range matches {
		odds, err := betOdds(run.action, m.Entry, result)
		if err != nil {
			state.Warn(fmt.Sprintf("race %s: %v", race.RaceID, err))
			continue
		}
		sizingOdds, err := betOdds(run.action, m.Entry, nil)
		if err != nil {
			sizingOdds = odds
		}

		stake := CalculateStake(run.policy, m.Score, sizingOdds, capitalAtStart, capitalAtStart-committed, e.cfg)
		if stake <= 0 {
			continue
		}
		committed += stake

		position, _ := result.Position(m.Entry.EntryNo)
		settlement := SettleBet(stake, odds, isWinner(run.action, position, placeCount), e.cfg.TaxRate)
		bets = append(bets, models.BetRecord{
			BetID:       betID(run.jobID, race.RaceID, m.Entry.EntryNo, run.action),
			RaceID:      race.RaceID,
			EntryNo:     m.Entry.EntryNo,
			RaceDate:    race.Date,
			Action:      run.action,
			Stake:       stake,
			Odds:        odds,
			Won:         settlement.Won,
			GrossPayout: settlement.GrossPayout,
			Tax:         settlement.Tax,
			NetProfit:   settlement.NetProfit,
			Score:       m.Score,
			PlacedAt:    race.Date,
		})
	}

	if len(bets) == 0 {
		e.finishRace(race.RaceID, RaceStateEvaluated, RaceStateNoBet)
		return nil
	}
	e.logger.LogRaceTransition(race.RaceID, RaceStateEvaluated, RaceStateBetPlaced)

	for _, bet := range bets {
		settled := state.ApplyBet(bet)
		metrics.RecordBetSettled(string(settled.Action), settled.Won)
		e.logger.LogBetSettled(settled.BetID, settled.RaceID, settled.EntryNo, settled.Stake, settled.Odds, settled.NetProfit, settled.Won)
	}
	if math.IsNaN(state.Capital) || math.IsInf(state.Capital, 0) {
		return &InternalError{Message: fmt.Sprintf("capital became non-finite after race %s", race.RaceID)}
	}

	state.RecordEquityPoint(race.Date, race.RaceID)
	e.finishRace(race.RaceID, RaceStateBetPlaced, RaceStateSettled)
	return nil
}

func (e *Executor) finishRace(raceID, from, to string) {
	e.logger.LogRaceTransition(raceID, from, to)
	metrics.RecordRaceProcessed(to)
}

func (e *Executor) skipRace(raceID, reason string, state *BacktestState) {
	state.SkippedRaces++
	state.Warn(fmt.Sprintf("race %s skipped: %s", raceID, reason))
	e.logger.LogRaceSkipped(raceID, reason)
	e.finishRace(raceID, RaceStateEvaluated, RaceStateSkipped)
}

func (e *Executor) buildResult(state *BacktestState, req *models.BacktestRequest) *models.BacktestResult {
	summary := CalculateSummary(state.Bets, state.EquityCurve, MetricsConfig{
		InitialCapital:      req.InitialCapital,
		AnnualizationFactor: e.cfg.Metrics.AnnualizationFactor,
		RiskFreeRate:        e.cfg.Metrics.RiskFreeRate,
	})
	summary.TotalRaces = state.TotalRaces
	summary.SkippedRaces = state.SkippedRaces

	bets := make([]models.BetRecord, len(state.Bets))
	copy(bets, state.Bets)
	equity := make([]models.EquityPoint, len(state.EquityCurve))
	copy(equity, state.EquityCurve)

	return &models.BacktestResult{
		Summary:     summary,
		Bets:        bets,
		EquityCurve: equity,
		Warnings:    state.Warnings,
	}
}

func progressOf(state *BacktestState) ProgressUpdate {
	percent := 100.0
	if state.TotalRaces > 0 {
		percent = float64(state.ProcessedRaces) / float64(state.TotalRaces) * 100
	}
	return ProgressUpdate{
		Percent:        percent,
		Message:        fmt.Sprintf("processed %d/%d races", state.ProcessedRaces, state.TotalRaces),
		ProcessedRaces: state.ProcessedRaces,
		TotalRaces:     state.TotalRaces,
		Capital:        state.Capital,
	}
}

// orderRaces sorts races chronologically and drops repeated race ids
func orderRaces(races []models.RaceContext) []models.RaceContext {
	ordered := make([]models.RaceContext, len(races))
	copy(ordered, races)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(&ordered[j])
	})

	seen := make(map[string]struct{}, len(ordered))
	out := ordered[:0]
	for _, race := range ordered {
		if _, dup := seen[race.RaceID]; dup {
			continue
		}
		seen[race.RaceID] = struct{}{}
		out = append(out, race)
	}
	return out
}

// resumeIndex finds the first race not yet covered by a checkpoint
func resumeIndex(races []models.RaceContext, cp *models.WorkerCheckpoint) int {
	if cp.LastRaceIndex < 0 {
		return 0
	}
	if cp.LastRaceIndex < len(races) && races[cp.LastRaceIndex].RaceID == cp.LastRaceID {
		return cp.LastRaceIndex + 1
	}
	for i := range races {
		if races[i].RaceID == cp.LastRaceID {
			return i + 1
		}
	}
	for i := range races {
		if races[i].Date.After(cp.LastRaceDate) {
			return i
		}
	}
	return len(races)
}

func betID(jobID, raceID string, entryNo int, action models.BetAction) string {
	name := fmt.Sprintf("%s|%s|%d|%s", jobID, raceID, entryNo, action)
	return uuid.NewSHA1(betNamespace, []byte(name)).String()
}
