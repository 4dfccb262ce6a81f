// Package strategy validates, normalizes and evaluates betting strategies against race entries.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/clever-backtest/internal/formula"
	"github.com/yourusername/clever-backtest/internal/models"
)

// Failure reasons recorded on a ConditionResult
const (
	ReasonNoValue      = "no value"
	ReasonNotNumeric   = "not numeric"
	ReasonNotSatisfied = "not satisfied"
	ReasonScoreTooLow  = "score below minimum"
	ReasonScoreMissing = "score unavailable"
)

// ConditionResult records how one condition fared against an entry
type ConditionResult struct {
	Index    int             `json:"index"`
	Field    string          `json:"field"`
	Operator models.Operator `json:"operator"`
	Actual   *models.Value   `json:"actual,omitempty"`
	Passed   bool            `json:"passed"`
	Reason   string          `json:"reason,omitempty"`
}

// EntryEvaluation is the outcome of evaluating a strategy against one entry.
// Conditions holds only the conditions evaluated, up to and including the first failure.
type EntryEvaluation struct {
	EntryNo    int               `json:"entry_no"`
	Matched    bool              `json:"matched"`
	Conditions []ConditionResult `json:"conditions"`
	Score      *float64          `json:"score,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// MatchedEntry is an entry a strategy wants to bet on
type MatchedEntry struct {
	Entry *models.EntryContext
	Score *float64
}

// Compiled is a validated strategy ready for evaluation. It is immutable and
// safe for concurrent use.
type Compiled struct {
	def      models.StrategyDefinition
	expr     *formula.Expression
	warnings []Issue
}

// Compile validates def and prepares it for evaluation. The definition is copied,
// so later edits to def do not affect the compiled strategy.
func Compile(def *models.StrategyDefinition) (*Compiled, error) {
	result := Validate(def)
	if !result.Valid {
		return nil, result.Err()
	}

	c := &Compiled{def: cloneDefinition(def), warnings: result.Warnings}
	if def.Formula != "" {
		expr, err := formula.Parse(def.Formula)
		if err != nil {
			return nil, fmt.Errorf("failed to parse formula: %w", err)
		}
		c.expr = expr
	}
	return c, nil
}

// Definition returns a copy of the compiled definition
func (c *Compiled) Definition() models.StrategyDefinition {
	return cloneDefinition(&c.def)
}

// Warnings returns the non-fatal findings from validation
func (c *Compiled) Warnings() []Issue {
	out := make([]Issue, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// HasFormula reports whether the strategy computes a derived score
func (c *Compiled) HasFormula() bool {
	return c.expr != nil
}

// PassesFilters applies the strategy's race-level filters
func (c *Compiled) PassesFilters(race *models.RaceContext) bool {
	f := c.def.Filters
	if f == nil {
		return true
	}
	if len(f.RaceTypes) > 0 && !containsFold(f.RaceTypes, race.RaceType) {
		return false
	}
	if len(f.Tracks) > 0 && !containsFold(f.Tracks, race.Track) {
		return false
	}
	if f.MinEntries > 0 && len(race.Entries) < f.MinEntries {
		return false
	}
	return true
}

// EvaluateEntry runs the conditions in declared order, stopping at the first failure.
func (c *Compiled) EvaluateEntry(entry *models.EntryContext, race *models.RaceContext) EntryEvaluation {
	eval := EntryEvaluation{
		EntryNo:    entry.EntryNo,
		Conditions: make([]ConditionResult, 0, len(c.def.Conditions)),
	}

	for i, cond := range c.def.Conditions {
		res := evaluateCondition(i, cond, entry, race)
		eval.Conditions = append(eval.Conditions, res)
		if !res.Passed {
			eval.Reason = res.Reason
			return eval
		}
	}

	if c.expr != nil {
		score, err := c.expr.Evaluate(entryScope{entry: entry, race: race})
		if err == nil {
			eval.Score = &score
		}
		if c.def.MinScore != nil {
			if eval.Score == nil {
				eval.Reason = ReasonScoreMissing
				return eval
			}
			if score < *c.def.MinScore {
				eval.Reason = ReasonScoreTooLow
				return eval
			}
		}
	}

	eval.Matched = true
	return eval
}

// EvaluateRace returns the entries the strategy matches, ordered by entry number.
// Races rejected by the filters yield no matches without evaluating any entry.
func (c *Compiled) EvaluateRace(race *models.RaceContext) []MatchedEntry {
	if race == nil || !c.PassesFilters(race) {
		return nil
	}

	matches := make([]MatchedEntry, 0)
	for i := range race.Entries {
		entry := &race.Entries[i]
		eval := c.EvaluateEntry(entry, race)
		if eval.Matched {
			matches = append(matches, MatchedEntry{Entry: entry, Score: eval.Score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Entry.EntryNo < matches[j].Entry.EntryNo
	})
	return matches
}

func evaluateCondition(index int, cond models.StrategyCondition, entry *models.EntryContext, race *models.RaceContext) ConditionResult {
	res := ConditionResult{Index: index, Field: cond.Field, Operator: cond.Operator}

	actual, ok := ResolveField(entry, race, cond.Field, cond.EffectiveTimeRef())
	if !ok {
		res.Reason = ReasonNoValue
		return res
	}
	res.Actual = &actual

	res.Passed, res.Reason = compare(cond.Operator, actual, cond.Value)
	return res
}

func compare(op models.Operator, actual models.Value, operand models.Operand) (bool, string) {
	switch op {
	case models.OpEq, models.OpNe:
		if operand.Scalar == nil {
			return false, ReasonNotSatisfied
		}
		equal := actual.Equal(*operand.Scalar)
		if (op == models.OpEq) == equal {
			return true, ""
		}
		return false, ReasonNotSatisfied

	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		if operand.Scalar == nil || !actual.IsNumber() || !operand.Scalar.IsNumber() {
			return false, ReasonNotNumeric
		}
		a, b := actual.Num, operand.Scalar.Num
		var passed bool
		switch op {
		case models.OpGt:
			passed = a > b
		case models.OpGte:
			passed = a >= b
		case models.OpLt:
			passed = a < b
		case models.OpLte:
			passed = a <= b
		}
		if passed {
			return true, ""
		}
		return false, ReasonNotSatisfied

	case models.OpBetween:
		if len(operand.List) != 2 || !actual.IsNumber() || !operand.List[0].IsNumber() || !operand.List[1].IsNumber() {
			return false, ReasonNotNumeric
		}
		if actual.Num >= operand.List[0].Num && actual.Num <= operand.List[1].Num {
			return true, ""
		}
		return false, ReasonNotSatisfied

	case models.OpIn:
		for _, candidate := range operand.List {
			if actual.Equal(candidate) {
				return true, ""
			}
		}
		return false, ReasonNotSatisfied
	}
	return false, ReasonNotSatisfied
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func cloneDefinition(def *models.StrategyDefinition) models.StrategyDefinition {
	out := *def
	out.Conditions = make([]models.StrategyCondition, len(def.Conditions))
	for i, cond := range def.Conditions {
		out.Conditions[i] = cond
		if cond.Value.Scalar != nil {
			v := *cond.Value.Scalar
			out.Conditions[i].Value.Scalar = &v
		}
		if cond.Value.List != nil {
			out.Conditions[i].Value.List = append([]models.Value{}, cond.Value.List...)
		}
	}
	if def.MinScore != nil {
		v := *def.MinScore
		out.MinScore = &v
	}
	if def.Stake != nil {
		v := *def.Stake
		out.Stake = &v
	}
	if def.Filters != nil {
		f := *def.Filters
		f.RaceTypes = append([]string(nil), def.Filters.RaceTypes...)
		f.Tracks = append([]string(nil), def.Filters.Tracks...)
		out.Filters = &f
	}
	out.Metadata.Tags = append([]string(nil), def.Metadata.Tags...)
	return out
}
