// Package config provides configuration management for the backtest service.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig             `mapstructure:"app" validate:"required"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Database DatabaseConfig        `mapstructure:"database"`
	Redis    RedisConfig           `mapstructure:"redis" validate:"required"`
	Backtest BacktestConfig        `mapstructure:"backtest" validate:"required"`
	Jobs     JobsConfig            `mapstructure:"jobs" validate:"required"`
	Tiers    map[string]TierConfig `mapstructure:"tiers" validate:"required,min=1,dive"`
	Webhook  WebhookConfig         `mapstructure:"webhook" validate:"required"`
	Metrics  MetricsConfig         `mapstructure:"metrics"`
	Secrets  SecretsConfig         `mapstructure:"secrets"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// LoggingConfig controls log formatting and optional file rotation
type LoggingConfig struct {
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig represents database connection configuration. The database
// is optional: it backs the Postgres race source, result archive and client tiers.
type DatabaseConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections     int    `mapstructure:"max_connections" validate:"gte=0"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections" validate:"gte=0"`
}

// RedisConfig represents the durable job store connection
type RedisConfig struct {
	Addr      string `mapstructure:"addr" validate:"required,hostname_port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
	PoolSize  int    `mapstructure:"pool_size" validate:"gte=0"`
}

// BacktestConfig represents simulation rules
type BacktestConfig struct {
	TaxRate             float64 `mapstructure:"tax_rate" validate:"gte=0,lt=1"`
	DefaultStake        float64 `mapstructure:"default_stake" validate:"required,gt=0"`
	StakeUnit           float64 `mapstructure:"stake_unit" validate:"gte=0"`
	MaxKellyFraction    float64 `mapstructure:"max_kelly_fraction" validate:"required,gt=0,lte=1"`
	MaxDateRangeDays    int     `mapstructure:"max_date_range_days" validate:"required,gt=0"`
	ProgressEvery       int     `mapstructure:"progress_every" validate:"required,gt=0"`
	ProgressIntervalMS  int     `mapstructure:"progress_interval_ms" validate:"gte=0"`
	CheckpointEvery     int     `mapstructure:"checkpoint_every" validate:"required,gt=0"`
	AnnualizationFactor float64 `mapstructure:"annualization_factor" validate:"gte=0"`
	RiskFreeRate        float64 `mapstructure:"risk_free_rate" validate:"gte=0"`
	Source              string  `mapstructure:"source" validate:"omitempty,oneof=file remote postgres"`
	DataPath            string  `mapstructure:"data_path"`
	DataURL             string  `mapstructure:"data_url" validate:"omitempty,url"`
}

// JobsConfig represents asynchronous job handling
type JobsConfig struct {
	ExecutionBudgetSeconds int               `mapstructure:"execution_budget_seconds" validate:"required,gt=0"`
	LeaseTTLSeconds        int               `mapstructure:"lease_ttl_seconds" validate:"required,gt=0"`
	MaxAttempts            int               `mapstructure:"max_attempts" validate:"required,gt=0"`
	TerminalTTLHours       int               `mapstructure:"terminal_ttl_hours" validate:"required,gt=0"`
	ResultTTLHours         int               `mapstructure:"result_ttl_hours" validate:"required,gt=0"`
	QuotaPeriod            string            `mapstructure:"quota_period" validate:"required,period"`
	DefaultTier            string            `mapstructure:"default_tier" validate:"required"`
	ClientTiers            map[string]string `mapstructure:"client_tiers"`
	TierCacheSeconds       int               `mapstructure:"tier_cache_seconds" validate:"gte=0"`
	ProgressRatePerSecond  float64           `mapstructure:"progress_rate_per_second" validate:"gte=0"`
	SweepSchedule          string            `mapstructure:"sweep_schedule"`
}

// TierConfig represents the limits of a subscription tier
type TierConfig struct {
	MaxBacktestsPerPeriod int `mapstructure:"max_backtests_per_period" validate:"required,gt=0"`
	MaxConcurrentJobs     int `mapstructure:"max_concurrent_jobs" validate:"required,gt=0"`
}

// WebhookConfig represents the signed trigger transport
type WebhookConfig struct {
	ListenAddr            string  `mapstructure:"listen_addr" validate:"required"`
	WorkerURL             string  `mapstructure:"worker_url" validate:"omitempty,url"`
	Secret                string  `mapstructure:"secret"`
	ToleranceSeconds      int     `mapstructure:"tolerance_seconds" validate:"gte=0"`
	DispatchRatePerSecond float64 `mapstructure:"dispatch_rate_per_second" validate:"gte=0"`
	DispatchBurst         int     `mapstructure:"dispatch_burst" validate:"gte=0"`
	RetryMax              int     `mapstructure:"retry_max" validate:"gte=0"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds" validate:"gte=0"`
	StreamPollMS          int     `mapstructure:"stream_poll_ms" validate:"gte=0"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Port           int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Path           string `mapstructure:"path"`
	HealthPort     int    `mapstructure:"health_port" validate:"omitempty,min=1,max=65535"`
	GRPCHealthPort int    `mapstructure:"grpc_health_port" validate:"omitempty,min=1,max=65535"`
}

// SecretsConfig locates the AWS Secrets Manager overlay
type SecretsConfig struct {
	AWSRegion  string `mapstructure:"aws_region"`
	SecretName string `mapstructure:"secret_name"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// ExecutionBudget returns the wall-clock budget of one worker invocation
func (j JobsConfig) ExecutionBudget() time.Duration {
	return time.Duration(j.ExecutionBudgetSeconds) * time.Second
}

// LeaseTTL returns how long a worker lease stays valid without renewal
func (j JobsConfig) LeaseTTL() time.Duration {
	return time.Duration(j.LeaseTTLSeconds) * time.Second
}

// TerminalTTL returns how long finished jobs are retained
func (j JobsConfig) TerminalTTL() time.Duration {
	return time.Duration(j.TerminalTTLHours) * time.Hour
}

// ResultTTL returns how long results are retained
func (j JobsConfig) ResultTTL() time.Duration {
	return time.Duration(j.ResultTTLHours) * time.Hour
}

// Tolerance returns the accepted clock skew of signed triggers
func (w WebhookConfig) Tolerance() time.Duration {
	if w.ToleranceSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(w.ToleranceSeconds) * time.Second
}
