package treesync

import "fmt"

// Step names the phase of a tree replacement.
type Step string

// Steps of a tree replacement, in execution order.
const (
	StepSubject  Step = "subject"
	StepValidate Step = "validate"
	StepLevels   Step = "levels"
	StepDelete   Step = "delete"
	StepInsert   Step = "insert"
	StepLink     Step = "link"
)

// SyncError reports the step at which a tree replacement failed.
type SyncError struct {
	Step      Step
	SubjectID string
	Err       error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.SubjectID == "" {
		return fmt.Sprintf("sync %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("sync subject %s: %s: %v", e.SubjectID, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}
