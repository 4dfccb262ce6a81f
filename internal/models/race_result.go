package models

// RaceResult is the official outcome of a race. Dividends are decimal odds keyed by entry number.
type RaceResult struct {
	RaceID         string          `json:"race_id" validate:"required"`
	Positions      map[int]int     `json:"positions"`
	WinDividends   map[int]float64 `json:"win_dividends,omitempty"`
	PlaceDividends map[int]float64 `json:"place_dividends,omitempty"`
	PlaceCount     int             `json:"place_count,omitempty"`
}

// Position returns the finishing position of an entry
func (r *RaceResult) Position(entryNo int) (int, bool) {
	pos, ok := r.Positions[entryNo]
	return pos, ok
}

// EffectivePlaceCount returns how many finishers are paid on a place bet.
// Fields of seven or fewer pay two places, larger fields pay three.
func (r *RaceResult) EffectivePlaceCount(entryCount int) int {
	if r.PlaceCount > 0 {
		return r.PlaceCount
	}
	if entryCount <= 4 {
		return 1
	}
	if entryCount <= 7 {
		return 2
	}
	return 3
}
