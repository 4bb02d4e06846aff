package errors

import (
	"fmt"
	"time"
)

// ValidationError indicates a malformed node list or configuration value.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// TimeoutError indicates an operation exceeded its wall-clock budget.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// Timeout reports true; it lets callers test for timeouts without importing
// this package.
func (e *TimeoutError) Timeout() bool {
	return true
}
