// Package checkpoint persists the set of jobs that reached a terminal state,
// so an interrupted batch can resume without repeating completed work.
//
// A checkpoint is always rewritten in full; stores never append.
package checkpoint

import (
	"context"
	"errors"
)

// Store persists one checkpoint document.
type Store interface {
	// Load returns the saved checkpoint.
	// Returns ErrNotFound if nothing has been saved yet.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save replaces the stored checkpoint with cp.
	Save(ctx context.Context, cp *Checkpoint) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint has been saved.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
