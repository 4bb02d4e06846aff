package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the checkpoint to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates or opens a SQLite checkpoint store.
// The path should be a file path or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoint_jobs (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL CHECK (status IN ('completed', 'failed')),
			position INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS checkpoint_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			saved_at TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM checkpoint_meta WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, status FROM checkpoint_jobs ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	defer rows.Close()

	cp := New()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan checkpoint job: %w", err)
		}
		if status == "completed" {
			cp.Completed = append(cp.Completed, id)
		} else {
			cp.Failed = append(cp.Failed, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint jobs: %w", err)
	}
	return cp, nil
}

// Save implements Store. The previous row set is replaced in one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_jobs`); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO checkpoint_jobs (job_id, status, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare checkpoint insert: %w", err)
	}
	defer stmt.Close()

	pos := 0
	for _, group := range []struct {
		status string
		ids    []string
	}{{"completed", cp.Completed}, {"failed", cp.Failed}} {
		for _, id := range group.ids {
			pos++
			if _, err := stmt.ExecContext(ctx, id, group.status, pos); err != nil {
				return fmt.Errorf("save checkpoint job %s: %w", id, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoint_meta (id, saved_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at
	`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("stamp checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
