// Package config provides configuration management for the backtest service.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "CLEVER_BACKTEST"
	defaultConfigPath = "config/config.yaml"
)

// Load reads and parses the configuration from file and environment variables
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Read the configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()

	// Read the expanded configuration
	if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return unmarshal(v)
}

// LoadWithDefaults loads configuration with default values for optional fields
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = defaultConfigPath
	}

	v := newViper()
	setDefaults(v)

	// Read and expand the configuration file if it exists
	if data, err := os.ReadFile(configPath); err == nil {
		if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// If file doesn't exist, continue with defaults and environment variables

	return unmarshal(v)
}

// ReloadFromEnv reloads the configuration when CLEVER_BACKTEST_CONFIG_PATH is set
func ReloadFromEnv(cfg *Config) error {
	if envPath := os.Getenv(envPrefix + "_CONFIG_PATH"); envPath != "" {
		newCfg, err := Load(envPath)
		if err != nil {
			return err
		}
		*cfg = *newCfg
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Set environment variable prefix
	v.SetEnvPrefix(envPrefix)

	// Enable automatic binding of environment variables
	v.AutomaticEnv()

	// Replace dots with underscores in environment variable names
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults mirrors config/config.example.yaml
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "clever-backtest")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_connections", 2)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "backtest")

	v.SetDefault("backtest.tax_rate", 0.0)
	v.SetDefault("backtest.default_stake", 100.0)
	v.SetDefault("backtest.stake_unit", 0.0)
	v.SetDefault("backtest.max_kelly_fraction", 0.25)
	v.SetDefault("backtest.max_date_range_days", 365)
	v.SetDefault("backtest.progress_every", 25)
	v.SetDefault("backtest.progress_interval_ms", 2000)
	v.SetDefault("backtest.checkpoint_every", 200)
	v.SetDefault("backtest.annualization_factor", 252.0)
	v.SetDefault("backtest.source", "file")
	v.SetDefault("backtest.data_path", "data/races.json")

	v.SetDefault("jobs.execution_budget_seconds", 240)
	v.SetDefault("jobs.lease_ttl_seconds", 300)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.terminal_ttl_hours", 168)
	v.SetDefault("jobs.result_ttl_hours", 720)
	v.SetDefault("jobs.quota_period", "monthly")
	v.SetDefault("jobs.default_tier", "free")
	v.SetDefault("jobs.tier_cache_seconds", 60)
	v.SetDefault("jobs.progress_rate_per_second", 1.0)
	v.SetDefault("jobs.sweep_schedule", "@every 1m")

	v.SetDefault("tiers.free.max_backtests_per_period", 5)
	v.SetDefault("tiers.free.max_concurrent_jobs", 1)

	v.SetDefault("webhook.listen_addr", ":8080")
	v.SetDefault("webhook.tolerance_seconds", 300)
	v.SetDefault("webhook.dispatch_rate_per_second", 10.0)
	v.SetDefault("webhook.dispatch_burst", 5)
	v.SetDefault("webhook.retry_max", 4)
	v.SetDefault("webhook.timeout_seconds", 0)
	v.SetDefault("webhook.stream_poll_ms", 1000)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.health_port", 8081)
	v.SetDefault("metrics.grpc_health_port", 8082)
}
