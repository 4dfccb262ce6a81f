package jobs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/models"
	"github.com/yourusername/clever-backtest/internal/strategy"
)

// ErrorCode classifies job failures. The set is closed.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "VALIDATION"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeDataSource        ErrorCode = "DATA_SOURCE_ERROR"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeNetwork           ErrorCode = "NETWORK"
	CodeInternal          ErrorCode = "INTERNAL"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Retryable reports whether a failure with this code may succeed on a later attempt
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeDataSource, CodeTimeout, CodeNetwork:
		return true
	default:
		return false
	}
}

// JobError is a classified job failure
type JobError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error
}

// NewJobError creates a job error whose retryability follows its code
func NewJobError(code ErrorCode, message string, cause error) *JobError {
	return &JobError{
		Code:      code,
		Message:   message,
		Retryable: code.Retryable(),
		Err:       cause,
	}
}

func (e *JobError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Info returns the form persisted on the job record
func (e *JobError) Info() *models.JobErrorInfo {
	return &models.JobErrorInfo{
		Code:      string(e.Code),
		Message:   e.Message,
		Retryable: e.Retryable,
	}
}

// HasCode reports whether err is a JobError with the given code
func HasCode(err error, code ErrorCode) bool {
	var jobErr *JobError
	return errors.As(err, &jobErr) && jobErr.Code == code
}

// timeoutSignatures and networkSignatures classify errors that carry no type
var (
	timeoutSignatures = []string{"deadline exceeded", "i/o timeout", "timeout"}
	networkSignatures = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"temporarily unavailable",
		"EOF",
	}
)

// Classify maps any error onto the job error taxonomy
func Classify(err error) *JobError {
	if err == nil {
		return nil
	}

	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}

	if errors.Is(err, backtest.ErrInvalidRequest) || strategy.IsValidationError(err) {
		return NewJobError(CodeValidation, err.Error(), err)
	}

	var internal *backtest.InternalError
	if errors.As(err, &internal) {
		return NewJobError(CodeInternal, internal.Message, err)
	}

	var sourceErr *backtest.SourceError
	if errors.As(err, &sourceErr) {
		return NewJobError(CodeDataSource, err.Error(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewJobError(CodeTimeout, err.Error(), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewJobError(CodeTimeout, err.Error(), err)
		}
		return NewJobError(CodeNetwork, err.Error(), err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, sig := range timeoutSignatures {
		if strings.Contains(lower, sig) {
			return NewJobError(CodeTimeout, msg, err)
		}
	}
	for _, sig := range networkSignatures {
		if strings.Contains(msg, sig) || strings.Contains(lower, sig) {
			return NewJobError(CodeNetwork, msg, err)
		}
	}

	return NewJobError(CodeInternal, msg, err)
}
