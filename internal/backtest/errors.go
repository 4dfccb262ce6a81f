package backtest

import (
	"errors"
	"fmt"

	"github.com/yourusername/clever-backtest/internal/models"
)

// ErrInvalidRequest marks a backtest request that can never run
var ErrInvalidRequest = errors.New("invalid backtest request")

// SourceError wraps a failure of the race data source
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("race source %s: %v", e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// InternalError is an invariant violation inside the simulation. It carries
// the result accumulated up to the failing race.
type InternalError struct {
	Message string
	Partial *models.BacktestResult
}

func (e *InternalError) Error() string {
	return "backtest internal error: " + e.Message
}

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
