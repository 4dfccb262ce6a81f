package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/models"
)

// MemorySource serves races and results held in memory
type MemorySource struct {
	mu      sync.RWMutex
	races   []models.RaceContext
	results map[string]models.RaceResult
}

// NewMemorySource creates a source over a dataset
func NewMemorySource(ds Dataset) *MemorySource {
	s := &MemorySource{results: make(map[string]models.RaceResult, len(ds.Results))}
	s.Load(ds)
	return s
}

// Load replaces the dataset
func (s *MemorySource) Load(ds Dataset) {
	races := make([]models.RaceContext, len(ds.Races))
	copy(races, ds.Races)
	sort.SliceStable(races, func(i, j int) bool { return races[i].Before(&races[j]) })

	results := make(map[string]models.RaceResult, len(ds.Results))
	for _, r := range ds.Results {
		results[r.RaceID] = r
	}

	s.mu.Lock()
	s.races = races
	s.results = results
	s.mu.Unlock()
}

// AddRace appends a race and its result, if any
func (s *MemorySource) AddRace(race models.RaceContext, result *models.RaceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.races = append(s.races, race)
	sort.SliceStable(s.races, func(i, j int) bool { return s.races[i].Before(&s.races[j]) })
	if result != nil {
		s.results[result.RaceID] = *result
	}
}

// GetRaces returns races inside the date range that pass the filters, in
// chronological order
func (s *MemorySource) GetRaces(ctx context.Context, dr models.DateRange, filters backtest.RaceFilters) ([]models.RaceContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RaceContext, 0)
	for i := range s.races {
		race := &s.races[i]
		if !dr.Contains(race.Date) {
			continue
		}
		if !matchesAny(race.Track, filters.Tracks) || !matchesAny(race.RaceType, filters.RaceTypes) {
			continue
		}
		out = append(out, *race)
	}
	return out, nil
}

// GetResult returns the official result of a race
func (s *MemorySource) GetResult(ctx context.Context, raceID string) (*models.RaceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[raceID]
	if !ok {
		return nil, fmt.Errorf("result of race %s: %w", raceID, models.ErrNotFound)
	}
	return &result, nil
}

// matchesAny reports whether value is in allowed, ignoring case. An empty
// list allows everything.
func matchesAny(value string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), value) {
			return true
		}
	}
	return false
}
