package store

import (
	"context"
	"errors"
	"fmt"
)

// SubjectID is the store-assigned identity of a subject.
type SubjectID = string

// SubjectKey identifies a subject across syncs.
type SubjectKey struct {
	Code              string `json:"code" yaml:"code"`
	QualificationType string `json:"qualification_type" yaml:"qualification_type"`
	Board             string `json:"board" yaml:"board"`
}

// String renders the key for logs.
func (k SubjectKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Board, k.QualificationType, k.Code)
}

// SubjectFields are the mutable subject attributes written on upsert.
type SubjectFields struct {
	Name string `json:"name" yaml:"name"`
}

// TopicRow is one topic to insert.
type TopicRow struct {
	SubjectID SubjectID
	Code      string
	Title     string
	Level     int
}

// Topic is a persisted topic row.
type Topic struct {
	ID        string    `json:"id"`
	SubjectID SubjectID `json:"subject_id"`
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	Level     int       `json:"level"`
	ParentID  string    `json:"parent_id,omitempty"`
}

// Store is the staging-store contract.
type Store interface {
	// UpsertSubject creates or updates the subject identified by key.
	UpsertSubject(ctx context.Context, key SubjectKey, fields SubjectFields) (SubjectID, error)

	// TopicLevels returns the distinct topic levels present for a subject,
	// in ascending order.
	TopicLevels(ctx context.Context, subjectID SubjectID) ([]int, error)

	// DeleteTopics deletes at most limit topics of one level and returns how
	// many were deleted.
	DeleteTopics(ctx context.Context, subjectID SubjectID, level, limit int) (int, error)

	// InsertTopics inserts all rows or none and returns them with identities.
	// Returns *TimeoutError if the batch exceeded the store's time limit.
	InsertTopics(ctx context.Context, rows []TopicRow) ([]Topic, error)

	// UpdateTopicParent sets the parent of topic id.
	// Returns ErrNotFound if the topic doesn't exist.
	UpdateTopicParent(ctx context.Context, id, parentID string) error

	// Topics returns a subject's topics in insertion order.
	Topics(ctx context.Context, subjectID SubjectID) ([]Topic, error)

	// Close releases connections.
	Close() error
}

// Transactor is implemented by stores that can run several calls as one
// transaction. fn receives a Store bound to the transaction; the transaction
// commits if fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a referenced subject or topic doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrConflict indicates a uniqueness or reference constraint violation.
	ErrConflict = errors.New("constraint violation")
)

// TimeoutError reports that the store gave up on a call because it exceeded
// an execution-time limit. Nothing from the call was persisted.
type TimeoutError struct {
	Op   string
	Rows int
	Err  error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s timed out (%d rows): %v", e.Op, e.Rows, e.Err)
	}
	return fmt.Sprintf("%s timed out (%d rows)", e.Op, e.Rows)
}

// Unwrap returns the driver error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Timeout always reports true.
func (e *TimeoutError) Timeout() bool {
	return true
}

// IsTimeout reports whether err is, or wraps, a *TimeoutError.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
