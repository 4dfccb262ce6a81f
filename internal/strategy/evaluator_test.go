package strategy

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func entryWithDrift(no int, drift float64, rank int) models.EntryContext {
	return models.EntryContext{
		EntryNo:        no,
		Odds:           5,
		PopularityRank: intPtr(rank),
		Extra:          map[string]models.Value{"odds_drift_pct": models.Number(drift)},
	}
}

func testRace(entries ...models.EntryContext) *models.RaceContext {
	return &models.RaceContext{
		RaceID:     "R1",
		Date:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RaceNumber: 1,
		Track:      "Tokyo",
		RaceType:   "flat",
		Entries:    entries,
	}
}

func mustCompile(t *testing.T, def *models.StrategyDefinition) *Compiled {
	t.Helper()
	c, err := Compile(def)
	require.NoError(t, err)
	return c
}

func TestEvaluateRaceMatchesOnlyQualifyingEntries(t *testing.T) {
	compiled := mustCompile(t, validDefinition())
	race := testRace(
		entryWithDrift(1, -25, 2),
		entryWithDrift(2, -10, 1),
		entryWithDrift(3, -30, 5),
	)

	matches := compiled.EvaluateRace(race)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Entry.EntryNo)
}

func TestEvaluateEntryShortCircuits(t *testing.T) {
	compiled := mustCompile(t, validDefinition())
	race := testRace(entryWithDrift(2, -10, 1))

	eval := compiled.EvaluateEntry(&race.Entries[0], race)
	assert.False(t, eval.Matched)
	require.Len(t, eval.Conditions, 1, "second condition must not be evaluated")
	assert.Equal(t, "odds_drift_pct", eval.Conditions[0].Field)
	assert.Equal(t, ReasonNotSatisfied, eval.Reason)
}

func TestEvaluateEntryMissingFieldFails(t *testing.T) {
	def := validDefinition()
	def.Conditions = []models.StrategyCondition{cond("weight", models.OpGt, num(400))}
	compiled := mustCompile(t, def)
	race := testRace(models.EntryContext{EntryNo: 1, Odds: 3})

	eval := compiled.EvaluateEntry(&race.Entries[0], race)
	assert.False(t, eval.Matched)
	assert.Equal(t, ReasonNoValue, eval.Reason)
	assert.Nil(t, eval.Conditions[0].Actual)
}

func TestEvaluateEntryNonNumericUnderNumericOperator(t *testing.T) {
	def := validDefinition()
	def.Conditions = []models.StrategyCondition{cond("track_condition", models.OpGt, num(1))}
	compiled := mustCompile(t, def)
	race := testRace(models.EntryContext{
		EntryNo: 1,
		Odds:    3,
		Extra:   map[string]models.Value{"track_condition": models.String("good")},
	})

	eval := compiled.EvaluateEntry(&race.Entries[0], race)
	assert.False(t, eval.Matched)
	assert.Equal(t, ReasonNotNumeric, eval.Reason)
}

func TestOperators(t *testing.T) {
	entry := models.EntryContext{
		EntryNo:        4,
		Odds:           4.5,
		PopularityRank: intPtr(2),
		Extra: map[string]models.Value{
			"sex":             models.String("mare"),
			"track_condition": models.String("good"),
			"age":             models.Number(5),
		},
	}

	tests := []struct {
		name string
		cond models.StrategyCondition
		want bool
	}{
		{"eq number", cond("odds", models.OpEq, num(4.5)), true},
		{"eq strict kind", cond("age", models.OpEq, models.ScalarOperand(models.String("5"))), false},
		{"ne", cond("sex", models.OpNe, models.ScalarOperand(models.String("colt"))), true},
		{"gt", cond("odds", models.OpGt, num(4.5)), false},
		{"gte", cond("odds", models.OpGte, num(4.5)), true},
		{"lt", cond("popularity_rank", models.OpLt, num(3)), true},
		{"lte", cond("popularity_rank", models.OpLte, num(1)), false},
		{"between inclusive low", cond("odds", models.OpBetween, models.ListOperand(models.Number(4.5), models.Number(6))), true},
		{"between inclusive high", cond("odds", models.OpBetween, models.ListOperand(models.Number(2), models.Number(4.5))), true},
		{"between outside", cond("odds", models.OpBetween, models.ListOperand(models.Number(5), models.Number(6))), false},
		{"in strings", cond("track_condition", models.OpIn, models.ListOperand(models.String("good"), models.String("firm"))), true},
		{"in numbers", cond("entry_no", models.OpIn, models.ListOperand(models.Number(1), models.Number(2))), false},
		{"derived implied probability", cond("implied_probability", models.OpLt, num(0.25)), true},
		{"entry count", cond("entry_count", models.OpEq, num(1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			def.Conditions = []models.StrategyCondition{tt.cond}
			compiled := mustCompile(t, def)
			race := testRace(entry)
			eval := compiled.EvaluateEntry(&race.Entries[0], race)
			assert.Equal(t, tt.want, eval.Matched)
		})
	}
}

func TestTimeReferences(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	entry := models.EntryContext{
		EntryNo: 1,
		Odds:    6,
		OddsTimeline: []models.OddsSnapshot{
			{Timestamp: t0, Odds: 3, PopularityRank: intPtr(1)},
			{Timestamp: t0.Add(time.Hour), Odds: 4},
			{Timestamp: t0.Add(2 * time.Hour), Odds: 5.5, PopularityRank: intPtr(3)},
		},
	}
	race := testRace(entry)

	v, ok := ResolveField(&race.Entries[0], race, "odds", models.TimeRefFirst)
	require.True(t, ok)
	assert.Equal(t, 3.0, v.Num)

	v, ok = ResolveField(&race.Entries[0], race, "odds", models.TimeRefLast)
	require.True(t, ok)
	assert.Equal(t, 5.5, v.Num)

	v, ok = ResolveField(&race.Entries[0], race, "odds", models.TimeRefCurrent)
	require.True(t, ok)
	assert.Equal(t, 6.0, v.Num)

	v, ok = ResolveField(&race.Entries[0], race, "odds_drift_pct", models.TimeRefCurrent)
	require.True(t, ok)
	assert.InDelta(t, 83.333, v.Num, 0.001)

	_, ok = ResolveField(&race.Entries[0], race, "place_odds", models.TimeRefLast)
	assert.False(t, ok, "snapshot without place odds has no value")

	noTimeline := models.EntryContext{EntryNo: 2, Odds: 7}
	v, ok = ResolveField(&noTimeline, race, "odds", models.TimeRefFirst)
	require.True(t, ok, "entries without a timeline fall back to the live value")
	assert.Equal(t, 7.0, v.Num)
}

func TestExtraBagDoesNotShadowTypedFields(t *testing.T) {
	entry := models.EntryContext{
		EntryNo: 1,
		Odds:    3,
		Extra:   map[string]models.Value{"odds": models.Number(99)},
	}
	v, ok := ResolveField(&entry, nil, "odds", models.TimeRefCurrent)
	require.True(t, ok)
	assert.Equal(t, 3.0, v.Num)
}

func TestRaceFiltersAppliedFirst(t *testing.T) {
	def := validDefinition()
	def.Filters = &models.StrategyFilters{Tracks: []string{"kyoto"}, MinEntries: 2}
	compiled := mustCompile(t, def)

	race := testRace(entryWithDrift(1, -25, 2), entryWithDrift(2, -40, 1))
	assert.Empty(t, compiled.EvaluateRace(race), "track filter")

	race.Track = "Kyoto"
	assert.Len(t, compiled.EvaluateRace(race), 2)

	small := testRace(entryWithDrift(1, -25, 2))
	small.Track = "Kyoto"
	assert.Empty(t, compiled.EvaluateRace(small), "min entries filter")

	def.Filters = &models.StrategyFilters{RaceTypes: []string{"jump"}}
	compiled = mustCompile(t, def)
	assert.Empty(t, compiled.EvaluateRace(race), "race type filter")
}

func TestFormulaScore(t *testing.T) {
	def := validDefinition()
	def.Conditions = []models.StrategyCondition{cond("odds", models.OpGt, num(1))}
	def.Formula = "1 / odds"
	def.MinScore = floatPtr(0.2)
	compiled := mustCompile(t, def)

	race := testRace(
		models.EntryContext{EntryNo: 1, Odds: 4},
		models.EntryContext{EntryNo: 2, Odds: 8},
	)
	matches := compiled.EvaluateRace(race)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Entry.EntryNo)
	require.NotNil(t, matches[0].Score)
	assert.Equal(t, 0.25, *matches[0].Score)

	eval := compiled.EvaluateEntry(&race.Entries[1], race)
	assert.Equal(t, ReasonScoreTooLow, eval.Reason)
}

func TestFormulaRuntimeFailureWithMinScore(t *testing.T) {
	def := validDefinition()
	def.Conditions = []models.StrategyCondition{cond("odds", models.OpGt, num(1))}
	def.Formula = "form_rating / odds"
	def.MinScore = floatPtr(0)
	compiled := mustCompile(t, def)

	race := testRace(models.EntryContext{EntryNo: 1, Odds: 4})
	eval := compiled.EvaluateEntry(&race.Entries[0], race)
	assert.False(t, eval.Matched)
	assert.Equal(t, ReasonScoreMissing, eval.Reason)
}

func TestCompileRejectsInvalid(t *testing.T) {
	def := validDefinition()
	def.Conditions = nil
	_, err := Compile(def)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestCompileIsolatesDefinition(t *testing.T) {
	def := validDefinition()
	compiled := mustCompile(t, def)
	def.Conditions[0].Value = num(100)

	race := testRace(entryWithDrift(1, -10, 1))
	assert.Empty(t, compiled.EvaluateRace(race))
}

func TestCalculateOddsStdDev(t *testing.T) {
	assert.InDelta(t, 2.0, CalculateOddsStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
	assert.Equal(t, 0.0, CalculateOddsStdDev(nil))
	assert.Equal(t, 0.0, CalculateOddsStdDev([]float64{3.5}))
}

// generatedRace builds a deterministic field where some entries lack
// popularity ranks and form ratings
func generatedRace(seed int64, size int) *models.RaceContext {
	rng := rand.New(rand.NewSource(seed))
	entries := make([]models.EntryContext, 0, size)
	for no := 1; no <= size; no++ {
		entry := entryWithDrift(no, float64(rng.Intn(60)-40), rng.Intn(size)+1)
		entry.Odds = 1.5 + float64(rng.Intn(30))
		if rng.Intn(4) == 0 {
			entry.PopularityRank = nil
		}
		if rng.Intn(3) > 0 {
			entry.Extra["form_rating"] = models.Number(float64(rng.Intn(100)))
		}
		entries = append(entries, entry)
	}
	return testRace(entries...)
}

func matchedEntryNos(c *Compiled, race *models.RaceContext) map[int]bool {
	out := make(map[int]bool)
	for _, m := range c.EvaluateRace(race) {
		out[m.Entry.EntryNo] = true
	}
	return out
}

func TestEvaluateRaceMatchesAreBackedByConditionResults(t *testing.T) {
	compiled := mustCompile(t, validDefinition())

	for seed := int64(1); seed <= 20; seed++ {
		race := generatedRace(seed, 14)
		matches := compiled.EvaluateRace(race)
		assert.LessOrEqual(t, len(matches), len(race.Entries))

		for _, m := range matches {
			eval := compiled.EvaluateEntry(m.Entry, race)
			assert.True(t, eval.Matched)
			require.NotEmpty(t, eval.Conditions, "entry %d", m.Entry.EntryNo)
			assert.Len(t, eval.Conditions, len(validDefinition().Conditions))
			for _, res := range eval.Conditions {
				assert.True(t, res.Passed)
			}
		}
	}
}

func TestEvaluateRaceDroppingAConditionNeverShrinksMatches(t *testing.T) {
	all := []models.StrategyCondition{
		cond("odds", models.OpLt, num(12)),
		cond("popularity_rank", models.OpLte, num(6)),
		cond("odds_drift_pct", models.OpLt, num(-5)),
		cond("form_rating", models.OpGte, num(40)),
	}
	subset := func(mask int) []models.StrategyCondition {
		var out []models.StrategyCondition
		for i, c := range all {
			if mask&(1<<i) != 0 {
				out = append(out, c)
			}
		}
		return out
	}

	compiled := make(map[int]*Compiled)
	for mask := 1; mask < 1<<len(all); mask++ {
		def := validDefinition()
		def.Conditions = subset(mask)
		compiled[mask] = mustCompile(t, def)
	}

	for seed := int64(1); seed <= 10; seed++ {
		race := generatedRace(seed, 12)
		for mask := 1; mask < 1<<len(all); mask++ {
			matched := matchedEntryNos(compiled[mask], race)
			for i := range all {
				smaller := mask &^ (1 << i)
				if smaller == mask || smaller == 0 {
					continue
				}
				wider := matchedEntryNos(compiled[smaller], race)
				for no := range matched {
					assert.True(t, wider[no], fmt.Sprintf("seed %d: entry %d lost when dropping condition %d from mask %b", seed, no, i, mask))
				}
			}
		}
	}
}
