package datasource

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/config"
)

// SourceType represents the type of data source
type SourceType string

const (
	// FileSourceType reads a JSON dataset from disk
	FileSourceType SourceType = "file"
	// RemoteSourceType reads from an HTTP race archive
	RemoteSourceType SourceType = "remote"
	// PostgresSourceType reads from the race database
	PostgresSourceType SourceType = "postgres"
)

// Factory creates race sources based on configuration
type Factory struct {
	logger   *logrus.Logger
	config   *config.Config
	postgres backtest.RaceSource
}

// NewFactory creates a new data source factory. postgres may be nil when the
// database is disabled.
func NewFactory(cfg *config.Config, postgres backtest.RaceSource, logger *logrus.Logger) *Factory {
	return &Factory{
		logger:   logger,
		config:   cfg,
		postgres: postgres,
	}
}

// NewRaceSource creates the race source selected by backtest.source
func (f *Factory) NewRaceSource() (backtest.RaceSource, error) {
	if f.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	sourceType := SourceType(f.config.Backtest.Source)
	if sourceType == "" {
		sourceType = FileSourceType
	}
	return f.Create(sourceType)
}

// Create creates a new data source based on the type
func (f *Factory) Create(sourceType SourceType) (backtest.RaceSource, error) {
	switch sourceType {
	case FileSourceType:
		source, err := NewFileSource(f.config.Backtest.DataPath, f.logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	case RemoteSourceType:
		return f.createRemoteSource()
	case PostgresSourceType:
		if f.postgres == nil {
			return nil, fmt.Errorf("postgres source requires an enabled database")
		}
		return f.postgres, nil
	default:
		return nil, fmt.Errorf("unknown data source type: %s", sourceType)
	}
}

func (f *Factory) createRemoteSource() (backtest.RaceSource, error) {
	client := NewRateLimitedHTTPClient(DefaultHTTPClientConfig(), f.logger)
	source, err := NewRemoteSource(f.config.Backtest.DataURL, client, f.logger)
	if err != nil {
		return nil, err
	}
	return source, nil
}

// ListAvailableSources returns the source types that can be created with the
// current configuration
func (f *Factory) ListAvailableSources() []SourceType {
	available := make([]SourceType, 0, 3)
	if f.config == nil {
		return available
	}
	if f.config.Backtest.DataPath != "" {
		available = append(available, FileSourceType)
	}
	if f.config.Backtest.DataURL != "" {
		available = append(available, RemoteSourceType)
	}
	if f.postgres != nil {
		available = append(available, PostgresSourceType)
	}
	return available
}
