package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
)

const errScanRace = "failed to scan race: %w"

// PostgresRaceRepository serves historical races and results from PostgreSQL.
// It implements backtest.RaceSource.
type PostgresRaceRepository struct {
	db *database.DB
}

// NewPostgresRaceRepository creates a new race repository
func NewPostgresRaceRepository(db *database.DB) *PostgresRaceRepository {
	return &PostgresRaceRepository{db: db}
}

// GetRaces returns the races on the days covered by dr, ordered chronologically.
// Track and race type filters are case-insensitive.
func (r *PostgresRaceRepository) GetRaces(ctx context.Context, dr models.DateRange, filters backtest.RaceFilters) ([]models.RaceContext, error) {
	query := `
		SELECT race_id, race_date, race_number, track, race_type, entries
		FROM races
		WHERE race_date >= $1 AND race_date < $2
		  AND ($3::text[] IS NULL OR lower(track) = ANY($3))
		  AND ($4::text[] IS NULL OR lower(race_type) = ANY($4))
		ORDER BY race_date ASC, track ASC, race_number ASC, race_id ASC
	`

	from, to := dayBounds(dr)
	rows, err := r.db.Pool().Query(ctx, query, from, to, lowered(filters.Tracks), lowered(filters.RaceTypes))
	if err != nil {
		return nil, fmt.Errorf("failed to query races by date range: %w", err)
	}
	defer rows.Close()

	var races []models.RaceContext
	for rows.Next() {
		var race models.RaceContext
		if err := rows.Scan(&race.RaceID, &race.Date, &race.RaceNumber, &race.Track, &race.RaceType, &race.Entries); err != nil {
			return nil, fmt.Errorf(errScanRace, err)
		}
		race.Date = race.Date.UTC()
		races = append(races, race)
	}

	return races, rows.Err()
}

// GetResult returns the official result of a race
func (r *PostgresRaceRepository) GetResult(ctx context.Context, raceID string) (*models.RaceResult, error) {
	query := `
		SELECT race_id, positions, win_dividends, place_dividends, place_count
		FROM race_results WHERE race_id = $1
	`

	result := &models.RaceResult{}
	err := r.db.Pool().QueryRow(ctx, query, raceID).Scan(
		&result.RaceID, &result.Positions, &result.WinDividends, &result.PlaceDividends, &result.PlaceCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("result for race %s: %w", raceID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get race result: %w", err)
	}

	return result, nil
}

// Import upserts races and their results in a single transaction
func (r *PostgresRaceRepository) Import(ctx context.Context, races []models.RaceContext, results []models.RaceResult) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range races {
			race := &races[i]
			batch.Queue(`
				INSERT INTO races (race_id, race_date, race_number, track, race_type, entries)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (race_id) DO UPDATE SET
					race_date = EXCLUDED.race_date, race_number = EXCLUDED.race_number,
					track = EXCLUDED.track, race_type = EXCLUDED.race_type, entries = EXCLUDED.entries
			`, race.RaceID, race.Date.UTC(), race.RaceNumber, race.Track, race.RaceType, race.Entries)
		}
		for i := range results {
			result := &results[i]
			batch.Queue(`
				INSERT INTO race_results (race_id, positions, win_dividends, place_dividends, place_count)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (race_id) DO UPDATE SET
					positions = EXCLUDED.positions, win_dividends = EXCLUDED.win_dividends,
					place_dividends = EXCLUDED.place_dividends, place_count = EXCLUDED.place_count
			`, result.RaceID, result.Positions, nonNil(result.WinDividends), nonNil(result.PlaceDividends), result.PlaceCount)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to import races: %w", err)
		}
		return nil
	})
}

// dayBounds converts an inclusive day range to a half-open timestamp range
func dayBounds(dr models.DateRange) (time.Time, time.Time) {
	from := dr.From.UTC()
	to := dr.To.UTC()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return start, end
}

func lowered(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func nonNil(m map[int]float64) map[int]float64 {
	if m == nil {
		return map[int]float64{}
	}
	return m
}
