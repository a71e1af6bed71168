package repositories

import (
	"fmt"
	"strings"
)

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

// CounterErrorInvalidInput indicates the caller supplied an empty counter id or a non-positive step.
const CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Code    CounterErrorCode
	Message string
	Err     error
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsInvalidInput reports whether the counter request itself was malformed.
func (e *CounterError) IsInvalidInput() bool {
	return e != nil && e.Code == CounterErrorInvalidInput
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}

// ValidateCounterRequest trims the counter id and checks the step. Every backend runs
// it before touching storage so they reject the same inputs.
func ValidateCounterRequest(counterID string, step int64) (string, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return "", NewCounterError(CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return "", NewCounterError(CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	return id, nil
}
