package models

import "time"

// OddsSnapshot is one observation of an entry's market at a point in time
type OddsSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Odds           float64   `json:"odds"`
	PlaceOdds      *float64  `json:"place_odds,omitempty"`
	PopularityRank *int      `json:"popularity_rank,omitempty"`
}

// EntryContext is a runner in a race as seen by the condition evaluator
type EntryContext struct {
	EntryNo        int              `json:"entry_no" validate:"required,gt=0"`
	Name           string           `json:"name,omitempty"`
	Odds           float64          `json:"odds"`
	PlaceOdds      *float64         `json:"place_odds,omitempty"`
	PopularityRank *int             `json:"popularity_rank,omitempty"`
	WinPoolTotal   *float64         `json:"win_pool_total,omitempty"`
	PlacePoolTotal *float64         `json:"place_pool_total,omitempty"`
	OddsTimeline   []OddsSnapshot   `json:"odds_timeline,omitempty"`
	Extra          map[string]Value `json:"extra,omitempty"`
}

// HasTimeline reports whether the entry carries at least one odds snapshot
func (e *EntryContext) HasTimeline() bool {
	return len(e.OddsTimeline) > 0
}

// RaceContext is a race with its entries
type RaceContext struct {
	RaceID     string         `json:"race_id" validate:"required"`
	Date       time.Time      `json:"date" validate:"required"`
	RaceNumber int            `json:"race_number"`
	Track      string         `json:"track"`
	RaceType   string         `json:"race_type"`
	Entries    []EntryContext `json:"entries"`
}

// Entry returns the entry with the given number
func (r *RaceContext) Entry(entryNo int) (*EntryContext, bool) {
	for i := range r.Entries {
		if r.Entries[i].EntryNo == entryNo {
			return &r.Entries[i], true
		}
	}
	return nil, false
}

// Before orders races chronologically, breaking ties by track, race number and id
func (r *RaceContext) Before(other *RaceContext) bool {
	if !r.Date.Equal(other.Date) {
		return r.Date.Before(other.Date)
	}
	if r.Track != other.Track {
		return r.Track < other.Track
	}
	if r.RaceNumber != other.RaceNumber {
		return r.RaceNumber < other.RaceNumber
	}
	return r.RaceID < other.RaceID
}
