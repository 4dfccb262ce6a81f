package repository

import (
	"fmt"

	"github.com/yourusername/clever-backtest/internal/database"
)

// Repositories holds all repository implementations
type Repositories struct {
	Races   *PostgresRaceRepository
	Results *PostgresResultRepository
	Clients *PostgresClientRepository
}

// NewRepositories creates and returns all repository implementations
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Races:   NewPostgresRaceRepository(db),
		Results: NewPostgresResultRepository(db),
		Clients: NewPostgresClientRepository(db),
	}, nil
}
