package models

import "sort"

// Core entry fields, always available to conditions and formulas
const (
	FieldOdds               = "odds"
	FieldPlaceOdds          = "place_odds"
	FieldPopularityRank     = "popularity_rank"
	FieldOddsDriftPct       = "odds_drift_pct"
	FieldOddsVolatility     = "odds_volatility"
	FieldImpliedProbability = "implied_probability"
	FieldWinPoolTotal       = "win_pool_total"
	FieldPlacePoolTotal     = "place_pool_total"
	FieldEntryNo            = "entry_no"
	FieldEntryCount         = "entry_count"
)

var coreFields = map[string]bool{
	FieldOdds:               true,
	FieldPlaceOdds:          true,
	FieldPopularityRank:     true,
	FieldOddsDriftPct:       true,
	FieldOddsVolatility:     true,
	FieldImpliedProbability: true,
	FieldWinPoolTotal:       true,
	FieldPlacePoolTotal:     true,
	FieldEntryNo:            true,
	FieldEntryCount:         true,
}

// extended fields are read from EntryContext.Extra and may be missing for some data sources
var extendedFields = map[string]bool{
	"weight":               true,
	"weight_change":        true,
	"jockey_win_rate":      true,
	"trainer_win_rate":     true,
	"days_since_last_race": true,
	"form_rating":          true,
	"age":                  true,
	"draw":                 true,
	"sex":                  true,
	"track_condition":      true,
}

var timelineFields = map[string]bool{
	FieldOdds:           true,
	FieldPlaceOdds:      true,
	FieldPopularityRank: true,
}

// IsCoreField reports whether name is a core field
func IsCoreField(name string) bool {
	return coreFields[name]
}

// IsExtendedField reports whether name is an extended field
func IsExtendedField(name string) bool {
	return extendedFields[name]
}

// IsKnownField reports whether name is on the closed field whitelist
func IsKnownField(name string) bool {
	return coreFields[name] || extendedFields[name]
}

// IsTimelineField reports whether name can be read at a first or last timeline snapshot
func IsTimelineField(name string) bool {
	return timelineFields[name]
}

// KnownFields returns the whitelist in sorted order
func KnownFields() []string {
	names := make([]string, 0, len(coreFields)+len(extendedFields))
	for name := range coreFields {
		names = append(names, name)
	}
	for name := range extendedFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
