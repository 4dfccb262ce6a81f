package models

import "time"

// Operator is a condition comparison operator
type Operator string

const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between"
	OpIn      Operator = "in"
)

// TimeRef selects which point of an odds timeline a condition reads
type TimeRef string

const (
	TimeRefFirst   TimeRef = "first"
	TimeRefLast    TimeRef = "last"
	TimeRefCurrent TimeRef = "current"
)

// BetAction is the bet a strategy places on a matched entry
type BetAction string

const (
	ActionBetWin   BetAction = "bet_win"
	ActionBetPlace BetAction = "bet_place"
)

// StrategyCondition is a single field/operator/value predicate
type StrategyCondition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    Operand  `json:"value"`
	TimeRef  TimeRef  `json:"time_ref,omitempty"`
}

// EffectiveTimeRef returns the time reference, defaulting to current
func (c StrategyCondition) EffectiveTimeRef() TimeRef {
	if c.TimeRef == "" {
		return TimeRefCurrent
	}
	return c.TimeRef
}

// StakePolicy describes how much to stake on each matched entry.
// PercentOfBankroll is expressed in percent (2.5 means 2.5% of current capital).
type StakePolicy struct {
	Fixed             float64 `json:"fixed,omitempty" validate:"gte=0"`
	PercentOfBankroll float64 `json:"percent_of_bankroll,omitempty" validate:"gte=0,lte=100"`
	UseKelly          bool    `json:"use_kelly,omitempty"`
	KellyFraction     float64 `json:"kelly_fraction,omitempty" validate:"gte=0,lte=1"`
}

// IsZero reports whether no sizing rule is configured
func (p StakePolicy) IsZero() bool {
	return p.Fixed == 0 && p.PercentOfBankroll == 0 && !p.UseKelly
}

// StrategyFilters restricts which races a strategy looks at
type StrategyFilters struct {
	RaceTypes  []string `json:"race_types,omitempty"`
	Tracks     []string `json:"tracks,omitempty"`
	MinEntries int      `json:"min_entries,omitempty" validate:"gte=0"`
}

// StrategyMetadata carries descriptive information that never affects evaluation
type StrategyMetadata struct {
	Author      string     `json:"author,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// StrategyDefinition is the normalized form of a betting strategy
type StrategyDefinition struct {
	ID         string              `json:"id" validate:"required,slug"`
	Version    string              `json:"version" validate:"required,semver"`
	Conditions []StrategyCondition `json:"conditions" validate:"required,min=1,max=10,dive"`
	Action     BetAction           `json:"action" validate:"required,oneof=bet_win bet_place"`
	Formula    string              `json:"formula,omitempty"`
	MinScore   *float64            `json:"min_score,omitempty"`
	Stake      *StakePolicy        `json:"stake,omitempty"`
	Filters    *StrategyFilters    `json:"filters,omitempty"`
	Metadata   StrategyMetadata    `json:"metadata"`
}

// StakePolicyOrDefault returns the configured stake policy or an empty one
func (d *StrategyDefinition) StakePolicyOrDefault() StakePolicy {
	if d.Stake == nil {
		return StakePolicy{}
	}
	return *d.Stake
}
