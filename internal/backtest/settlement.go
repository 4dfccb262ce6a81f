package backtest

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/yourusername/clever-backtest/internal/models"
)

// Settlement is the money outcome of one bet
type Settlement struct {
	Won         bool
	GrossPayout float64
	Tax         float64
	NetProfit   float64
}

// SettleBet settles a stake at the given decimal odds. Tax applies to the
// gross payout of winning bets only.
func SettleBet(stake, odds float64, won bool, taxRate float64) Settlement {
	s := decimal.NewFromFloat(stake)
	if !won {
		return Settlement{NetProfit: s.Neg().InexactFloat64()}
	}

	gross := s.Mul(decimal.NewFromFloat(odds))
	tax := gross.Mul(decimal.NewFromFloat(taxRate))
	net := gross.Sub(tax).Sub(s)

	return Settlement{
		Won:         true,
		GrossPayout: gross.InexactFloat64(),
		Tax:         tax.InexactFloat64(),
		NetProfit:   net.InexactFloat64(),
	}
}

// betOdds returns the decimal odds a bet is struck at. Win bets take the
// entry's odds at bet time; place bets prefer the official place dividend.
func betOdds(action models.BetAction, entry *models.EntryContext, result *models.RaceResult) (float64, error) {
	switch action {
	case models.ActionBetWin:
		if entry.Odds > 0 {
			return entry.Odds, nil
		}
		if result != nil {
			if div, ok := result.WinDividends[entry.EntryNo]; ok && div > 0 {
				return div, nil
			}
		}
		return 0, fmt.Errorf("entry %d has no win odds", entry.EntryNo)
	case models.ActionBetPlace:
		if result != nil {
			if div, ok := result.PlaceDividends[entry.EntryNo]; ok && div > 0 {
				return div, nil
			}
		}
		if entry.PlaceOdds != nil && *entry.PlaceOdds > 0 {
			return *entry.PlaceOdds, nil
		}
		return 0, fmt.Errorf("entry %d has no place odds", entry.EntryNo)
	default:
		return 0, fmt.Errorf("unsupported action %q", action)
	}
}

// isWinner reports whether a bet on the entry pays out
func isWinner(action models.BetAction, position, placeCount int) bool {
	if position <= 0 {
		return false
	}
	if action == models.ActionBetPlace {
		return position <= placeCount
	}
	return position == 1
}
