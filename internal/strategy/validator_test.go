package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/models"
)

func cond(field string, op models.Operator, value models.Operand) models.StrategyCondition {
	return models.StrategyCondition{Field: field, Operator: op, Value: value}
}

func num(n float64) models.Operand {
	return models.ScalarOperand(models.Number(n))
}

func validDefinition() *models.StrategyDefinition {
	return &models.StrategyDefinition{
		ID:      "late-drifters",
		Version: "1.2.0",
		Action:  models.ActionBetWin,
		Conditions: []models.StrategyCondition{
			cond("odds_drift_pct", models.OpLt, num(-20)),
			cond("popularity_rank", models.OpLte, num(3)),
		},
	}
}

func issueCodes(issues []Issue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}

func TestValidateAcceptsValidDefinition(t *testing.T) {
	result := Validate(validDefinition())
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, result.Err())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *models.StrategyDefinition)
		code   string
	}{
		{"no conditions", func(d *models.StrategyDefinition) { d.Conditions = nil }, "no_conditions"},
		{"empty conditions", func(d *models.StrategyDefinition) { d.Conditions = []models.StrategyCondition{} }, "no_conditions"},
		{"too many conditions", func(d *models.StrategyDefinition) {
			d.Conditions = nil
			for i := 0; i < 11; i++ {
				d.Conditions = append(d.Conditions, cond("odds", models.OpGt, num(1)))
			}
		}, "too_many_conditions"},
		{"unknown field", func(d *models.StrategyDefinition) { d.Conditions[0].Field = "jockey_shoe_size" }, "unknown_field"},
		{"unknown operator", func(d *models.StrategyDefinition) { d.Conditions[0].Operator = "like" }, "unknown_operator"},
		{"unknown time ref", func(d *models.StrategyDefinition) { d.Conditions[0].TimeRef = "yesterday" }, "unknown_time_ref"},
		{"time ref on field without timeline", func(d *models.StrategyDefinition) {
			d.Conditions[0].TimeRef = models.TimeRefFirst
		}, "time_ref_unsupported"},
		{"between with scalar", func(d *models.StrategyDefinition) {
			d.Conditions[0] = cond("odds", models.OpBetween, num(2))
		}, "value_shape"},
		{"between with three values", func(d *models.StrategyDefinition) {
			d.Conditions[0] = cond("odds", models.OpBetween, models.ListOperand(models.Number(1), models.Number(2), models.Number(3)))
		}, "value_shape"},
		{"between inverted", func(d *models.StrategyDefinition) {
			d.Conditions[0] = cond("odds", models.OpBetween, models.ListOperand(models.Number(8), models.Number(2)))
		}, "value_shape"},
		{"in with empty list", func(d *models.StrategyDefinition) {
			d.Conditions[0] = cond("sex", models.OpIn, models.ListOperand())
		}, "value_shape"},
		{"gt with string", func(d *models.StrategyDefinition) {
			d.Conditions[0] = cond("odds", models.OpGt, models.ScalarOperand(models.String("2")))
		}, "value_shape"},
		{"eq with list", func(d *models.StrategyDefinition) {
			d.Conditions[0] = cond("odds", models.OpEq, models.ListOperand(models.Number(2)))
		}, "value_shape"},
		{"id with whitespace", func(d *models.StrategyDefinition) { d.ID = "late drifters" }, "invalid_id"},
		{"id uppercase", func(d *models.StrategyDefinition) { d.ID = "Late" }, "invalid_id"},
		{"missing id", func(d *models.StrategyDefinition) { d.ID = "" }, "required"},
		{"bad version", func(d *models.StrategyDefinition) { d.Version = "1.2" }, "invalid_version"},
		{"unknown action", func(d *models.StrategyDefinition) { d.Action = "bet_exacta" }, "unknown_action"},
		{"negative fixed stake", func(d *models.StrategyDefinition) { d.Stake = &models.StakePolicy{Fixed: -1} }, "invalid_stake"},
		{"percent over 100", func(d *models.StrategyDefinition) { d.Stake = &models.StakePolicy{PercentOfBankroll: 150} }, "invalid_stake"},
		{"formula syntax", func(d *models.StrategyDefinition) { d.Formula = "1 / (odds" }, "SYNTAX"},
		{"formula variable", func(d *models.StrategyDefinition) { d.Formula = "password * 2" }, "DISALLOWED_VARIABLE"},
		{"formula function", func(d *models.StrategyDefinition) { d.Formula = "exp(odds)" }, "DISALLOWED_FUNCTION"},
		{"min score without formula", func(d *models.StrategyDefinition) {
			v := 0.5
			d.MinScore = &v
		}, "min_score_without_formula"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			result := Validate(def)
			assert.False(t, result.Valid)
			assert.Contains(t, issueCodes(result.Errors), tt.code)
			assert.True(t, IsValidationError(result.Err()))
		})
	}
}

func TestValidateNil(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"required"}, issueCodes(result.Errors))
}

func TestValidateWarnsOnExtendedFields(t *testing.T) {
	def := validDefinition()
	def.Conditions = append(def.Conditions, cond("jockey_win_rate", models.OpGte, num(0.15)))
	def.Formula = "form_rating / odds"

	result := Validate(def)
	require.True(t, result.Valid, "warnings must not invalidate: %v", result.Errors)
	assert.Len(t, result.Warnings, 2)
	assert.Equal(t, []string{"extended_field", "extended_field"}, issueCodes(result.Warnings))
}

func TestValidateTimelineReferences(t *testing.T) {
	def := validDefinition()
	def.Conditions = []models.StrategyCondition{
		{Field: "odds", Operator: models.OpLt, Value: num(5), TimeRef: models.TimeRefFirst},
		{Field: "popularity_rank", Operator: models.OpLte, Value: num(3), TimeRef: models.TimeRefLast},
	}
	assert.True(t, Validate(def).Valid)
}

func TestValidateReportsEveryError(t *testing.T) {
	def := validDefinition()
	def.ID = "Bad Id"
	def.Version = "x"
	def.Conditions[1].Field = "nope"

	result := Validate(def)
	codes := issueCodes(result.Errors)
	assert.Contains(t, codes, "invalid_id")
	assert.Contains(t, codes, "invalid_version")
	assert.Contains(t, codes, "unknown_field")

	paths := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		paths = append(paths, issue.Path)
	}
	assert.Contains(t, paths, "id")
	assert.Contains(t, paths, "conditions[1].field")
}
