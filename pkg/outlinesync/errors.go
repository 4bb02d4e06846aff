package outlinesync

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestrator runs.
var (
	// ErrInterrupted indicates the run stopped early because its context was
	// cancelled. The checkpoint was written before returning.
	ErrInterrupted = errors.New("run interrupted")

	// ErrDuplicateJob indicates two declared jobs share an ID.
	ErrDuplicateJob = errors.New("duplicate job id")

	// ErrEmptyJobID indicates a declared job has no ID.
	ErrEmptyJobID = errors.New("job id is empty")

	// ErrNoCommand indicates a job has no arguments to execute.
	ErrNoCommand = errors.New("job has no command")
)

// CheckpointError wraps a checkpoint load or save failure. A run stops on a
// save failure, since continuing would leave finished jobs unrecorded.
type CheckpointError struct {
	Op    string // "load" or "save"
	JobID string // job whose result was being recorded, if any
	Err   error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("checkpoint %s after job %s: %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// ExitError reports a job process that exited non-zero.
type ExitError struct {
	Code int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}
