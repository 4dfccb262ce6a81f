package backtest

import (
	"context"

	"github.com/yourusername/clever-backtest/internal/models"
)

// RaceFilters narrows the races fetched for a run
type RaceFilters struct {
	Tracks    []string
	RaceTypes []string
}

// RaceSource supplies historical races and their results. GetResult returns an
// error wrapping models.ErrNotFound when a race has no official result.
type RaceSource interface {
	GetRaces(ctx context.Context, dateRange models.DateRange, filters RaceFilters) ([]models.RaceContext, error)
	GetResult(ctx context.Context, raceID string) (*models.RaceResult, error)
}
