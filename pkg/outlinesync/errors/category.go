// Package errors classifies failures raised while ingesting outlines and
// running batch jobs.
//
// The package implements a layered error handling approach:
//   - Categorization: decide whether a failure is worth another attempt
//   - Retry: handle transient start-up failures with exponential backoff
//   - Timeouts: keep "never finished" distinguishable from "errored"
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: connection refused while the store restarts.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help within the current run.
	// Examples: constraint violations, malformed node lists.
	CategoryPermanent

	// CategoryTimeout indicates an operation exceeded its time budget.
	// Store timeouts are resolved by splitting batches; job timeouts are
	// recorded as TIMEOUT.
	CategoryTimeout

	// CategoryInterrupt indicates the user cancelled the run.
	CategoryInterrupt
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryTimeout:
		return "timeout"
	case CategoryInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// timeouter is satisfied by adapter errors that report a timeout explicitly,
// such as store.TimeoutError.
type timeouter interface {
	Timeout() bool
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	if errors.Is(err, context.Canceled) {
		return CategoryInterrupt
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTimeout
	}

	var t timeouter
	if errors.As(err, &t) && t.Timeout() {
		return CategoryTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryPermanent
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsTimeout reports whether the error is a timeout of any origin.
func IsTimeout(err error) bool {
	return Categorize(err) == CategoryTimeout
}

// IsInterrupt reports whether the error stems from user cancellation.
func IsInterrupt(err error) bool {
	return Categorize(err) == CategoryInterrupt
}
