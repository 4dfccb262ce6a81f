package strategy

import (
	"github.com/yourusername/clever-backtest/internal/models"
)

// ResolveField reads a whitelisted field from an entry. Typed entry fields win over
// the extra bag, which wins over values derived from the odds timeline. A first or
// last time reference reads the matching snapshot when the entry has a timeline.
func ResolveField(entry *models.EntryContext, race *models.RaceContext, field string, ref models.TimeRef) (models.Value, bool) {
	if entry == nil || !models.IsKnownField(field) {
		return models.Value{}, false
	}

	if ref == models.TimeRefFirst || ref == models.TimeRefLast {
		if models.IsTimelineField(field) && entry.HasTimeline() {
			snap := entry.OddsTimeline[0]
			if ref == models.TimeRefLast {
				snap = entry.OddsTimeline[len(entry.OddsTimeline)-1]
			}
			return snapshotField(snap, field)
		}
	}

	if v, ok := typedField(entry, race, field); ok {
		return v, true
	}
	if v, ok := entry.Extra[field]; ok {
		return v, true
	}
	return derivedField(entry, field)
}

func snapshotField(snap models.OddsSnapshot, field string) (models.Value, bool) {
	switch field {
	case models.FieldOdds:
		if snap.Odds > 0 {
			return models.Number(snap.Odds), true
		}
	case models.FieldPlaceOdds:
		if snap.PlaceOdds != nil {
			return models.Number(*snap.PlaceOdds), true
		}
	case models.FieldPopularityRank:
		if snap.PopularityRank != nil {
			return models.Number(float64(*snap.PopularityRank)), true
		}
	}
	return models.Value{}, false
}

func typedField(entry *models.EntryContext, race *models.RaceContext, field string) (models.Value, bool) {
	switch field {
	case models.FieldOdds:
		if entry.Odds > 0 {
			return models.Number(entry.Odds), true
		}
	case models.FieldPlaceOdds:
		if entry.PlaceOdds != nil {
			return models.Number(*entry.PlaceOdds), true
		}
	case models.FieldPopularityRank:
		if entry.PopularityRank != nil {
			return models.Number(float64(*entry.PopularityRank)), true
		}
	case models.FieldWinPoolTotal:
		if entry.WinPoolTotal != nil {
			return models.Number(*entry.WinPoolTotal), true
		}
	case models.FieldPlacePoolTotal:
		if entry.PlacePoolTotal != nil {
			return models.Number(*entry.PlacePoolTotal), true
		}
	case models.FieldEntryNo:
		return models.Number(float64(entry.EntryNo)), true
	case models.FieldEntryCount:
		if race != nil {
			return models.Number(float64(len(race.Entries))), true
		}
	}
	return models.Value{}, false
}

func derivedField(entry *models.EntryContext, field string) (models.Value, bool) {
	switch field {
	case models.FieldImpliedProbability:
		if entry.Odds > 0 {
			return models.Number(1 / entry.Odds), true
		}
	case models.FieldOddsDriftPct:
		if len(entry.OddsTimeline) >= 2 {
			first := entry.OddsTimeline[0].Odds
			last := entry.OddsTimeline[len(entry.OddsTimeline)-1].Odds
			if first > 0 {
				return models.Number((last - first) / first * 100), true
			}
		}
	case models.FieldOddsVolatility:
		if len(entry.OddsTimeline) >= 2 {
			odds := make([]float64, len(entry.OddsTimeline))
			for i, snap := range entry.OddsTimeline {
				odds[i] = snap.Odds
			}
			return models.Number(CalculateOddsStdDev(odds)), true
		}
	}
	return models.Value{}, false
}

// entryScope exposes an entry's numeric fields to formula evaluation
type entryScope struct {
	entry *models.EntryContext
	race  *models.RaceContext
}

func (s entryScope) Lookup(name string) (float64, bool) {
	v, ok := ResolveField(s.entry, s.race, name, models.TimeRefCurrent)
	if !ok || !v.IsNumber() {
		return 0, false
	}
	return v.Num, true
}
