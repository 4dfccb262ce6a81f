package backtest

import (
	"fmt"
	"time"

	"github.com/yourusername/clever-backtest/internal/config"
)

// ExecutorConfig holds the simulation rules shared by every backtest run
type ExecutorConfig struct {
	TaxRate          float64
	DefaultStake     float64
	StakeUnit        float64
	MaxKellyFraction float64
	MaxDateRangeDays int
	ProgressEvery    int
	ProgressInterval time.Duration
	CheckpointEvery  int
	Metrics          MetricsConfig
}

// DefaultExecutorConfig returns the settings used when nothing is configured
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TaxRate:          0,
		DefaultStake:     100,
		StakeUnit:        0,
		MaxKellyFraction: 0.25,
		MaxDateRangeDays: 365,
		ProgressEvery:    25,
		ProgressInterval: 2 * time.Second,
		CheckpointEvery:  200,
		Metrics: MetricsConfig{
			AnnualizationFactor: 252,
		},
	}
}

// FromConfig converts app config to executor config
func FromConfig(cfg *config.BacktestConfig) (ExecutorConfig, error) {
	if cfg == nil {
		return ExecutorConfig{}, fmt.Errorf("backtest config is required")
	}

	ec := DefaultExecutorConfig()
	ec.TaxRate = cfg.TaxRate
	if cfg.DefaultStake > 0 {
		ec.DefaultStake = cfg.DefaultStake
	}
	ec.StakeUnit = cfg.StakeUnit
	if cfg.MaxKellyFraction > 0 {
		ec.MaxKellyFraction = cfg.MaxKellyFraction
	}
	if cfg.MaxDateRangeDays > 0 {
		ec.MaxDateRangeDays = cfg.MaxDateRangeDays
	}
	if cfg.ProgressEvery > 0 {
		ec.ProgressEvery = cfg.ProgressEvery
	}
	if cfg.ProgressIntervalMS > 0 {
		ec.ProgressInterval = time.Duration(cfg.ProgressIntervalMS) * time.Millisecond
	}
	if cfg.CheckpointEvery > 0 {
		ec.CheckpointEvery = cfg.CheckpointEvery
	}
	if cfg.AnnualizationFactor > 0 {
		ec.Metrics.AnnualizationFactor = cfg.AnnualizationFactor
	}
	ec.Metrics.RiskFreeRate = cfg.RiskFreeRate

	return ec, ec.Validate()
}

// Validate validates executor config parameters
func (c ExecutorConfig) Validate() error {
	if c.TaxRate < 0 || c.TaxRate >= 1 {
		return fmt.Errorf("tax rate must be in [0, 1)")
	}
	if c.DefaultStake <= 0 {
		return fmt.Errorf("default stake must be positive")
	}
	if c.StakeUnit < 0 {
		return fmt.Errorf("stake unit cannot be negative")
	}
	if c.MaxKellyFraction <= 0 || c.MaxKellyFraction > 1 {
		return fmt.Errorf("max kelly fraction must be in (0, 1]")
	}
	if c.MaxDateRangeDays <= 0 {
		return fmt.Errorf("max date range must be positive")
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("progress interval in races must be positive")
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint interval must be positive")
	}
	return nil
}
