package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/yourusername/clever-backtest/internal/database"
	"github.com/yourusername/clever-backtest/internal/models"
)

// PostgresClientRepository stores client tier assignments.
// It implements jobs.ClientTierLookup.
type PostgresClientRepository struct {
	db *database.DB
}

// NewPostgresClientRepository creates a new client repository
func NewPostgresClientRepository(db *database.DB) *PostgresClientRepository {
	return &PostgresClientRepository{db: db}
}

// GetClientTier returns the tier assigned to a client
func (r *PostgresClientRepository) GetClientTier(ctx context.Context, clientID string) (string, error) {
	var tier string
	err := r.db.Pool().QueryRow(ctx, `SELECT tier FROM clients WHERE client_id = $1`, clientID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("client %s: %w", clientID, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get client tier: %w", err)
	}
	return tier, nil
}

// SetClientTier assigns a tier to a client
func (r *PostgresClientRepository) SetClientTier(ctx context.Context, clientID, tier string) error {
	query := `
		INSERT INTO clients (client_id, tier, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = NOW()
	`
	if _, err := r.db.Pool().Exec(ctx, query, clientID, tier); err != nil {
		return fmt.Errorf("failed to set client tier: %w", err)
	}
	return nil
}
