package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/models"
)

func tierConfig() *config.Config {
	return &config.Config{
		Jobs: config.JobsConfig{
			DefaultTier: "free",
			ClientTiers: map[string]string{"research-desk": "pro"},
		},
		Tiers: map[string]config.TierConfig{
			"free": {MaxBacktestsPerPeriod: 5, MaxConcurrentJobs: 1},
			"pro":  {MaxBacktestsPerPeriod: 200, MaxConcurrentJobs: 4},
		},
	}
}

type fakeLookup struct {
	tiers map[string]string
	err   error
}

func (f *fakeLookup) GetClientTier(ctx context.Context, clientID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	tier, ok := f.tiers[clientID]
	if !ok {
		return "", fmt.Errorf("client %s: %w", clientID, models.ErrNotFound)
	}
	return tier, nil
}

type countingTiers struct {
	calls int
	tier  Tier
}

func (c *countingTiers) ResolveTier(ctx context.Context, clientID string) (Tier, error) {
	c.calls++
	return c.tier, nil
}

func TestConfigTierSource(t *testing.T) {
	source, err := NewConfigTierSource(tierConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	tier, err := source.ResolveTier(ctx, "research-desk")
	require.NoError(t, err)
	assert.Equal(t, Tier{Name: "pro", MaxBacktestsPerPeriod: 200, MaxConcurrentJobs: 4}, tier)

	tier, err = source.ResolveTier(ctx, "walk-in")
	require.NoError(t, err)
	assert.Equal(t, "free", tier.Name)
}

func TestConfigTierSourceLookup(t *testing.T) {
	lookup := &fakeLookup{tiers: map[string]string{"walk-in": "pro", "stale": "gold"}}
	source, err := NewConfigTierSource(tierConfig(), lookup)
	require.NoError(t, err)
	ctx := context.Background()

	tier, err := source.ResolveTier(ctx, "walk-in")
	require.NoError(t, err)
	assert.Equal(t, "pro", tier.Name)

	tier, err = source.ResolveTier(ctx, "research-desk")
	require.NoError(t, err)
	assert.Equal(t, "pro", tier.Name, "config assignment used when lookup has none")

	_, err = source.ResolveTier(ctx, "stale")
	assert.Error(t, err)

	lookup.err = errors.New("connection refused")
	_, err = source.ResolveTier(ctx, "walk-in")
	assert.Error(t, err)
}

func TestNewConfigTierSourceRequiresDefaultTier(t *testing.T) {
	cfg := tierConfig()
	cfg.Jobs.DefaultTier = "gold"
	_, err := NewConfigTierSource(cfg, nil)
	assert.Error(t, err)
}

func TestCachedTierSource(t *testing.T) {
	next := &countingTiers{tier: Tier{Name: "pro"}}
	cached := NewCachedTierSource(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tier, err := cached.ResolveTier(ctx, "research-desk")
		require.NoError(t, err)
		assert.Equal(t, "pro", tier.Name)
	}
	assert.Equal(t, 1, next.calls)

	cached.Invalidate("research-desk")
	_, err := cached.ResolveTier(ctx, "research-desk")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
