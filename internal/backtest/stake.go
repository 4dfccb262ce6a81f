package backtest

import (
	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

// CalculateStake sizes a bet for a matched entry. Kelly sizing is used when
// requested and the entry carries a score usable as a win probability, then
// percent of bankroll, then a fixed amount, then the configured default. The
// sized stake is rounded down to the stake unit and then clamped to available
// capital.
func CalculateStake(policy models.StakePolicy, score *float64, odds, capital, available float64, cfg ExecutorConfig) float64 {
	if capital <= 0 || available <= 0 {
		return 0
	}

	var stake float64
	switch {
	case policy.UseKelly && score != nil && *score > 0 && *score < 1:
		stake = ApplyKellyCriterion(*score, odds, capital, policy.KellyFraction, cfg.MaxKellyFraction)
	case policy.PercentOfBankroll > 0:
		stake = capital * policy.PercentOfBankroll / 100
	case policy.Fixed > 0:
		stake = policy.Fixed
	default:
		stake = cfg.DefaultStake
	}

	stake = roundDownToUnit(stake, cfg.StakeUnit)
	if stake <= 0 {
		return 0
	}
	// An over-budget bet goes in with whatever capital is left, unit or not
	if stake > available {
		stake = available
	}
	return stake
}

// ApplyKellyCriterion calculates stake based on the Kelly criterion. A zero
// fraction means full Kelly; the stake never exceeds maxFraction of bankroll.
func ApplyKellyCriterion(probability, odds, bankroll, fraction, maxFraction float64) float64 {
	if probability <= 0 || probability >= 1 || odds <= 1 || bankroll <= 0 {
		return 0
	}
	p := probability
	q := 1.0 - p
	bOdds := odds - 1.0
	kelly := (bOdds*p - q) / bOdds
	if kelly <= 0 {
		return 0
	}
	if fraction <= 0 {
		fraction = 1
	}
	kelly *= fraction
	if maxFraction > 0 && kelly > maxFraction {
		kelly = maxFraction
	}
	return bankroll * kelly
}

func roundDownToUnit(stake, unit float64) float64 {
	if unit <= 0 {
		return stake
	}
	u := decimal.NewFromFloat(unit)
	return decimal.NewFromFloat(stake).Div(u).Floor().Mul(u).InexactFloat64()
}
