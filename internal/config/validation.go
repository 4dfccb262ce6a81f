// Package config provides configuration management for the backtest service.
package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	// Register custom validation functions
	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)
	_ = v.RegisterValidation("period", validatePeriod)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	cv := NewValidator()
	return cv.Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	err := cv.validator.Struct(cfg)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	// Additional cross-field validations
	if err := validateCrossField(cfg); err != nil {
		return err
	}

	return nil
}

// validateEnvironment validates the environment field
func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

// validateLogLevel validates the log level field
func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// validatePeriod validates the quota accounting period
func validatePeriod(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "daily", "monthly":
		return true
	default:
		return false
	}
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	if _, ok := cfg.Tiers[cfg.Jobs.DefaultTier]; !ok {
		return fmt.Errorf("jobs.default_tier %q is not a configured tier", cfg.Jobs.DefaultTier)
	}

	clients := make([]string, 0, len(cfg.Jobs.ClientTiers))
	for client := range cfg.Jobs.ClientTiers {
		clients = append(clients, client)
	}
	sort.Strings(clients)
	for _, client := range clients {
		tier := cfg.Jobs.ClientTiers[client]
		if _, ok := cfg.Tiers[tier]; !ok {
			return fmt.Errorf("client %q is assigned unknown tier %q", client, tier)
		}
	}

	// A lease must outlive the invocation holding it
	if cfg.Jobs.LeaseTTLSeconds < cfg.Jobs.ExecutionBudgetSeconds {
		return fmt.Errorf("jobs.lease_ttl_seconds cannot be shorter than execution_budget_seconds")
	}

	if cfg.Jobs.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Jobs.SweepSchedule); err != nil {
			return fmt.Errorf("invalid jobs.sweep_schedule: %w", err)
		}
	}

	switch cfg.Backtest.Source {
	case "remote":
		if cfg.Backtest.DataURL == "" {
			return fmt.Errorf("backtest.data_url is required for the remote source")
		}
	case "postgres":
		if !cfg.Database.Enabled {
			return fmt.Errorf("backtest.source postgres requires database.enabled")
		}
	}

	if cfg.Database.Enabled {
		if cfg.Database.Host == "" || cfg.Database.Name == "" || cfg.Database.User == "" || cfg.Database.Port == 0 {
			return fmt.Errorf("database host, port, name and user are required when database is enabled")
		}
		// Validate connection pool settings
		if cfg.Database.MaxIdleConnections > cfg.Database.MaxConnections {
			return fmt.Errorf("max_idle_connections cannot exceed max_connections")
		}
	}

	return nil
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var errMsg string
	for _, fieldError := range validationErrors {
		field := fieldError.StructField()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required":
			errMsg += fmt.Sprintf("- Field '%s' is required\n", field)
		case "url":
			errMsg += fmt.Sprintf("- Field '%s' must be a valid URL, got '%v'\n", field, value)
		case "hostname_port":
			errMsg += fmt.Sprintf("- Field '%s' must be host:port, got '%v'\n", field, value)
		case "min", "max":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "period":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: daily, monthly\n", field)
		case "oneof":
			errMsg += fmt.Sprintf("- Field '%s' has invalid value '%v'\n", field, value)
		default:
			errMsg += fmt.Sprintf("- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", errMsg)
}

// ValidateEnvironment validates environment-specific requirements
func ValidateEnvironment(cfg *Config) error {
	if cfg.IsProduction() {
		// Production must have SSL enabled
		if cfg.Database.Enabled && cfg.Database.SSLMode == "disable" {
			return fmt.Errorf("production environment requires database SSL mode to be 'require' or 'verify-full'")
		}

		// Unsigned triggers are only tolerated in development
		if cfg.Webhook.Secret == "" {
			return fmt.Errorf("production environment requires a webhook secret")
		}
	}

	if !cfg.IsDevelopment() && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required outside development")
	}

	return nil
}
