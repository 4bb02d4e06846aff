package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteChunkRows keeps one INSERT statement under SQLite's bound-parameter
// limit (four parameters per row).
const sqliteChunkRows = 2000

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a local staging store.
// It is suitable for development runs and single-process use.
type SQLiteStore struct {
	db          *sql.DB
	q           querier
	inTx        bool
	callTimeout time.Duration
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithCallTimeout bounds each InsertTopics call outside a transaction. A call
// that exceeds it fails with *TimeoutError. Zero disables the bound.
//
// The bound is not applied inside InTx: interrupting a SQLite statement rolls
// back the whole enclosing transaction, not just the batch. Adaptive batch
// splitting on SQLite therefore needs sync.transactional set to false.
func WithCallTimeout(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.callTimeout = d }
}

// OpenSQLite creates or opens a SQLite staging store at path.
// Use ":memory:" for a throwaway database.
//
// The database is configured with WAL journaling, a 5-second busy timeout
// and foreign key enforcement, and the schema is applied idempotently.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Pragmas are per connection; a single connection keeps them in force
	// and keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, q: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// UpsertSubject implements Store.
func (s *SQLiteStore) UpsertSubject(ctx context.Context, key SubjectKey, fields SubjectFields) (SubjectID, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO subjects (code, qualification_type, board, name, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code, qualification_type, board) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
		RETURNING id
	`, key.Code, key.QualificationType, key.Board, fields.Name, time.Now().UTC().Format(time.RFC3339Nano)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert subject %s: %w", key, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// TopicLevels implements Store.
func (s *SQLiteStore) TopicLevels(ctx context.Context, subjectID SubjectID) ([]int, error) {
	sid, err := parseSQLiteID(subjectID)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT level FROM topics WHERE subject_id = ? ORDER BY level
	`, sid)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	var levels []int
	for rows.Next() {
		var l int
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate levels: %w", err)
	}
	return levels, nil
}

// DeleteTopics implements Store.
func (s *SQLiteStore) DeleteTopics(ctx context.Context, subjectID SubjectID, level, limit int) (int, error) {
	sid, err := parseSQLiteID(subjectID)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}

	res, err := s.q.ExecContext(ctx, `
		DELETE FROM topics WHERE id IN (
			SELECT id FROM topics WHERE subject_id = ? AND level = ? ORDER BY id LIMIT ?
		)
	`, sid, level, limit)
	if err != nil {
		return 0, fmt.Errorf("delete topics at level %d: %w", level, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete topics at level %d: %w", level, err)
	}
	return int(n), nil
}

// InsertTopics implements Store.
func (s *SQLiteStore) InsertTopics(ctx context.Context, rows []TopicRow) ([]Topic, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	callCtx := ctx
	if s.callTimeout > 0 && !s.inTx {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	out := make([]Topic, 0, len(rows))
	err := s.atomic(callCtx, func(q querier) error {
		for start := 0; start < len(rows); start += sqliteChunkRows {
			end := min(start+sqliteChunkRows, len(rows))
			chunk, err := insertSQLiteChunk(callCtx, q, rows[start:end])
			if err != nil {
				return err
			}
			out = append(out, chunk...)
		}
		return nil
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Op: "insert_topics", Rows: len(rows), Err: err}
		}
		return nil, fmt.Errorf("insert %d topics: %w", len(rows), err)
	}
	return out, nil
}

func insertSQLiteChunk(ctx context.Context, q querier, rows []TopicRow) ([]Topic, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO topics (subject_id, code, title, level) VALUES ")
	args := make([]any, 0, len(rows)*4)
	for i, r := range rows {
		sid, err := parseSQLiteID(r.SubjectID)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, sid, r.Code, r.Title, r.Level)
	}
	b.WriteString(" RETURNING id, subject_id, code, title, level")

	result, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	byCode := make(map[string]Topic, len(rows))
	for result.Next() {
		var id, sid int64
		var t Topic
		if err := result.Scan(&id, &sid, &t.Code, &t.Title, &t.Level); err != nil {
			return nil, fmt.Errorf("scan inserted topic: %w", err)
		}
		t.ID = strconv.FormatInt(id, 10)
		t.SubjectID = strconv.FormatInt(sid, 10)
		byCode[t.SubjectID+"\x00"+t.Code] = t
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified; restore input order.
	out := make([]Topic, 0, len(rows))
	for _, r := range rows {
		t, ok := byCode[r.SubjectID+"\x00"+r.Code]
		if !ok {
			return nil, fmt.Errorf("inserted topic %s missing from result", r.Code)
		}
		out = append(out, t)
	}
	return out, nil
}

// atomic runs fn in a transaction, or under a savepoint when the store is
// already bound to one.
func (s *SQLiteStore) atomic(ctx context.Context, fn func(querier) error) error {
	if s.inTx {
		if _, err := s.q.ExecContext(ctx, "SAVEPOINT insert_batch"); err != nil {
			return err
		}
		if err := fn(s.q); err != nil {
			_, _ = s.q.ExecContext(context.WithoutCancel(ctx), "ROLLBACK TO SAVEPOINT insert_batch")
			_, _ = s.q.ExecContext(context.WithoutCancel(ctx), "RELEASE SAVEPOINT insert_batch")
			return err
		}
		_, err := s.q.ExecContext(ctx, "RELEASE SAVEPOINT insert_batch")
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateTopicParent implements Store.
func (s *SQLiteStore) UpdateTopicParent(ctx context.Context, id, parentID string) error {
	tid, err := parseSQLiteID(id)
	if err != nil {
		return err
	}
	pid, err := parseSQLiteID(parentID)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `UPDATE topics SET parent_id = ? WHERE id = ?`, pid, tid)
	if err != nil {
		return fmt.Errorf("update parent of topic %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update parent of topic %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return nil
}

// Topics implements Store.
func (s *SQLiteStore) Topics(ctx context.Context, subjectID SubjectID) ([]Topic, error) {
	sid, err := parseSQLiteID(subjectID)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, code, title, level, parent_id
		FROM topics WHERE subject_id = ? ORDER BY id
	`, sid)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var id int64
		var parent sql.NullInt64
		t := Topic{SubjectID: subjectID}
		if err := rows.Scan(&id, &t.Code, &t.Title, &t.Level, &parent); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		t.ID = strconv.FormatInt(id, 10)
		if parent.Valid {
			t.ParentID = strconv.FormatInt(parent.Int64, 10)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// InTx implements Transactor.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &SQLiteStore{db: s.db, q: tx, inTx: true, callTimeout: s.callTimeout}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Store. Closing a transaction-bound store is a no-op.
func (s *SQLiteStore) Close() error {
	if s.inTx || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func parseSQLiteID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sqlite id %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Compile-time interface checks.
var (
	_ Store      = (*SQLiteStore)(nil)
	_ Transactor = (*SQLiteStore)(nil)
)
