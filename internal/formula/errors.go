package formula

import "fmt"

// ErrorCode classifies formula failures
type ErrorCode string

const (
	CodeSyntax             ErrorCode = "SYNTAX"
	CodeDisallowedVariable ErrorCode = "DISALLOWED_VARIABLE"
	CodeDisallowedFunction ErrorCode = "DISALLOWED_FUNCTION"
	CodeTooLong            ErrorCode = "TOO_LONG"
	CodeRuntime            ErrorCode = "RUNTIME"
)

// Error is returned by Parse and Evaluate
type Error struct {
	Code     ErrorCode
	Message  string
	Position int
}

func (e *Error) Error() string {
	if e.Position >= 0 && e.Code != CodeRuntime && e.Code != CodeTooLong {
		return fmt.Sprintf("%s at position %d: %s", e.Code, e.Position, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, pos int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Position: pos, Message: fmt.Sprintf(format, args...)}
}

func runtimeError(format string, args ...interface{}) *Error {
	return newError(CodeRuntime, -1, format, args...)
}
