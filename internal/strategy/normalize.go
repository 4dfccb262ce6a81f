package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/yourusername/clever-backtest/internal/models"
)

// legacyStrategy is the older JSON shape still produced by saved strategies
type legacyStrategy struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description"`
	Author       string       `json:"author"`
	Rules        []legacyRule `json:"rules"`
	BetType      string       `json:"bet_type"`
	StakeAmount  float64      `json:"stake_amount"`
	StakePercent float64      `json:"stake_percent"`
	Kelly        bool         `json:"kelly"`
	ScoreFormula string       `json:"score_formula"`
	MinScore     *float64     `json:"min_score"`
	Tracks       []string     `json:"tracks"`
	MinRunners   int          `json:"min_runners"`
}

type legacyRule struct {
	Field string         `json:"field"`
	Op    string         `json:"op"`
	Value models.Operand `json:"value"`
	Time  string         `json:"time"`
}

var legacyOperators = map[string]models.Operator{
	"==": models.OpEq, "=": models.OpEq, "eq": models.OpEq,
	"!=": models.OpNe, "ne": models.OpNe,
	">": models.OpGt, "gt": models.OpGt,
	">=": models.OpGte, "gte": models.OpGte,
	"<": models.OpLt, "lt": models.OpLt,
	"<=": models.OpLte, "lte": models.OpLte,
	"between": models.OpBetween, "range": models.OpBetween,
	"in": models.OpIn, "oneOf": models.OpIn,
}

// ParseLegacy converts the legacy JSON shape into a StrategyDefinition
func ParseLegacy(data []byte) (*models.StrategyDefinition, error) {
	var legacy legacyStrategy
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("failed to decode legacy strategy: %w", err)
	}

	def := &models.StrategyDefinition{
		ID:       slugify(legacy.Name),
		Version:  normalizeVersion(legacy.Version),
		Formula:  legacy.ScoreFormula,
		MinScore: legacy.MinScore,
		Metadata: models.StrategyMetadata{
			Author:      legacy.Author,
			Description: legacy.Description,
		},
	}

	switch strings.ToLower(legacy.BetType) {
	case "win", "bet_win", "":
		def.Action = models.ActionBetWin
	case "place", "bet_place":
		def.Action = models.ActionBetPlace
	default:
		def.Action = models.BetAction(legacy.BetType)
	}

	for _, rule := range legacy.Rules {
		op, ok := legacyOperators[rule.Op]
		if !ok {
			op = models.Operator(rule.Op)
		}
		def.Conditions = append(def.Conditions, models.StrategyCondition{
			Field:    camelToSnake(rule.Field),
			Operator: op,
			Value:    rule.Value,
			TimeRef:  models.TimeRef(rule.Time),
		})
	}

	if legacy.StakeAmount > 0 || legacy.StakePercent > 0 || legacy.Kelly {
		def.Stake = &models.StakePolicy{
			Fixed:             legacy.StakeAmount,
			PercentOfBankroll: legacy.StakePercent,
			UseKelly:          legacy.Kelly,
		}
	}
	if len(legacy.Tracks) > 0 || legacy.MinRunners > 0 {
		def.Filters = &models.StrategyFilters{Tracks: legacy.Tracks, MinEntries: legacy.MinRunners}
	}
	return def, nil
}

// ParseJSON decodes the canonical JSON form
func ParseJSON(data []byte) (*models.StrategyDefinition, error) {
	var def models.StrategyDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode strategy: %w", err)
	}
	return &def, nil
}

// Normalize detects the format of raw (DSL text, legacy JSON or canonical JSON),
// converts it once into the internal representation and validates it.
func Normalize(raw []byte) (*models.StrategyDefinition, ValidationResult, error) {
	var (
		def *models.StrategyDefinition
		err error
	)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, ValidationResult{}, fmt.Errorf("failed to decode strategy: %w", err)
		}
		if _, isLegacy := probe["rules"]; isLegacy {
			def, err = ParseLegacy(trimmed)
		} else {
			def, err = ParseJSON(trimmed)
		}
	} else {
		def, err = ParseDSL(string(trimmed))
	}
	if err != nil {
		return nil, ValidationResult{}, err
	}

	result := Validate(def)
	if !result.Valid {
		return def, result, result.Err()
	}
	return def, result, nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func normalizeVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return "1.0.0"
	}
	parts := strings.Split(v, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts, ".")
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
