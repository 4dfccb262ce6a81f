package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/models"
)

// Tier is the set of limits applied to a client
type Tier struct {
	Name                  string
	MaxBacktestsPerPeriod int
	MaxConcurrentJobs     int
}

// TierSource resolves the tier of a client
type TierSource interface {
	ResolveTier(ctx context.Context, clientID string) (Tier, error)
}

// ClientTierLookup returns the tier name assigned to a client. Clients without
// an assignment wrap models.ErrNotFound.
type ClientTierLookup interface {
	GetClientTier(ctx context.Context, clientID string) (string, error)
}

// ConfigTierSource resolves tiers from configuration, optionally consulting a
// lookup for per-client assignments first
type ConfigTierSource struct {
	tiers       map[string]config.TierConfig
	clients     map[string]string
	defaultTier string
	lookup      ClientTierLookup
}

// NewConfigTierSource creates a tier source. lookup may be nil.
func NewConfigTierSource(cfg *config.Config, lookup ClientTierLookup) (*ConfigTierSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if _, ok := cfg.Tiers[cfg.Jobs.DefaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q is not configured", cfg.Jobs.DefaultTier)
	}
	return &ConfigTierSource{
		tiers:       cfg.Tiers,
		clients:     cfg.Jobs.ClientTiers,
		defaultTier: cfg.Jobs.DefaultTier,
		lookup:      lookup,
	}, nil
}

// ResolveTier returns the tier of a client, falling back to the default tier
func (s *ConfigTierSource) ResolveTier(ctx context.Context, clientID string) (Tier, error) {
	name := ""
	if s.lookup != nil {
		assigned, err := s.lookup.GetClientTier(ctx, clientID)
		switch {
		case err == nil:
			name = assigned
		case !errors.Is(err, models.ErrNotFound):
			return Tier{}, fmt.Errorf("failed to look up tier of client %s: %w", clientID, err)
		}
	}
	if name == "" {
		name = s.clients[clientID]
	}
	if name == "" {
		name = s.defaultTier
	}

	limits, ok := s.tiers[name]
	if !ok {
		return Tier{}, fmt.Errorf("client %s is assigned unknown tier %q", clientID, name)
	}
	return Tier{
		Name:                  name,
		MaxBacktestsPerPeriod: limits.MaxBacktestsPerPeriod,
		MaxConcurrentJobs:     limits.MaxConcurrentJobs,
	}, nil
}

// CachedTierSource memoizes another tier source
type CachedTierSource struct {
	next  TierSource
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedTierSource wraps next with an in-memory cache
func NewCachedTierSource(next TierSource, ttl time.Duration) *CachedTierSource {
	return &CachedTierSource{
		next:  next,
		cache: cache.New(ttl, ttl*2),
		ttl:   ttl,
	}
}

// ResolveTier returns the cached tier or asks the wrapped source
func (c *CachedTierSource) ResolveTier(ctx context.Context, clientID string) (Tier, error) {
	if cached, found := c.cache.Get(clientID); found {
		if tier, ok := cached.(Tier); ok {
			return tier, nil
		}
	}

	tier, err := c.next.ResolveTier(ctx, clientID)
	if err != nil {
		return Tier{}, err
	}
	c.cache.Set(clientID, tier, c.ttl)
	return tier, nil
}

// Invalidate drops the cached tier of a client
func (c *CachedTierSource) Invalidate(clientID string) {
	c.cache.Delete(clientID)
}
