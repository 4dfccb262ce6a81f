package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/models"
)

const fileSourceName = "file"

// FileSource reads a JSON dataset from disk on first use
type FileSource struct {
	path   string
	logger *logrus.Entry

	once    sync.Once
	loadErr error
	memory  *MemorySource
}

// NewFileSource creates a source backed by a JSON fixture file
func NewFileSource(path string, log *logrus.Logger) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("data path is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &FileSource{
		path:   path,
		logger: log.WithFields(logrus.Fields{"component": "datasource", "source": fileSourceName}),
	}, nil
}

// LoadDataset reads and validates a dataset file
func LoadDataset(path string) (Dataset, error) {
	var ds Dataset
	data, err := os.ReadFile(path)
	if err != nil {
		code := ErrCodeUnknown
		if errors.Is(err, os.ErrNotExist) {
			code = ErrCodeNotFound
		}
		return ds, NewDataSourceError(fileSourceName, code, "failed to read "+path, err)
	}
	if err := json.Unmarshal(data, &ds); err != nil {
		return ds, NewDataSourceError(fileSourceName, ErrCodeInvalidData, "failed to parse "+path, err)
	}
	if err := validator.New().Struct(&ds); err != nil {
		return ds, NewDataSourceError(fileSourceName, ErrCodeInvalidData, "invalid dataset "+path, err)
	}
	return ds, nil
}

func (s *FileSource) load() error {
	s.once.Do(func() {
		ds, err := LoadDataset(s.path)
		if err != nil {
			s.loadErr = err
			return
		}
		s.memory = NewMemorySource(ds)
		s.logger.WithFields(logrus.Fields{
			"path":    s.path,
			"races":   len(ds.Races),
			"results": len(ds.Results),
		}).Info("Loaded race dataset")
	})
	return s.loadErr
}

// GetRaces returns races of the dataset inside the range
func (s *FileSource) GetRaces(ctx context.Context, dr models.DateRange, filters backtest.RaceFilters) ([]models.RaceContext, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.memory.GetRaces(ctx, dr, filters)
}

// GetResult returns the result of a race in the dataset
func (s *FileSource) GetResult(ctx context.Context, raceID string) (*models.RaceResult, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	return s.memory.GetResult(ctx, raceID)
}
