package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	oserrors "github.com/randalmurphal/outlinesync/pkg/outlinesync/errors"
)

//go:embed schema_postgres.sql
var postgresSchema string

// SQLSTATE codes the adapter maps onto the store's error contract.
const (
	pgQueryCanceled   = "57014"
	pgUniqueViolation = "23505"
	pgFKViolation     = "23503"
)

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is the production staging store.
type PostgresStore struct {
	pool             *pgxpool.Pool
	q                pgQuerier
	inTx             bool
	statementTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithStatementTimeout sets the server-side statement_timeout applied to
// each InsertTopics call. Zero leaves the server default.
func WithStatementTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) { s.statementTimeout = d }
}

// OpenPostgres connects a pool to dsn and waits for the server to answer.
// Connection failures are retried with backoff.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	result := oserrors.WithRetryContext(ctx, oserrors.NewRetryConfig(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, pingError(pool.Ping(ctx))
	})
	if result.Err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping after %d attempts: %w", result.Attempts, result.Err)
	}

	s := &PostgresStore{pool: pool, q: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// pingError marks connection failures and timeouts as transient so the
// startup retry loop tries again. Anything else fails fast.
func pingError(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return oserrors.Transient(err, "ping")
	}
	return err
}

// ApplySchema creates the staging tables if they don't exist.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertSubject implements Store.
func (s *PostgresStore) UpsertSubject(ctx context.Context, key SubjectKey, fields SubjectFields) (SubjectID, error) {
	var id string
	err := s.q.QueryRow(ctx, `
		INSERT INTO subjects (code, qualification_type, board, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code, qualification_type, board) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = now()
		RETURNING id::text
	`, key.Code, key.QualificationType, key.Board, fields.Name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert subject %s: %w", key, classifyPgError("upsert_subject", 0, err))
	}
	return id, nil
}

// TopicLevels implements Store.
func (s *PostgresStore) TopicLevels(ctx context.Context, subjectID SubjectID) ([]int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT level FROM topics WHERE subject_id = $1 ORDER BY level
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", classifyPgError("topic_levels", 0, err))
	}
	levels, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("collect levels: %w", err)
	}
	return levels, nil
}

// DeleteTopics implements Store.
func (s *PostgresStore) DeleteTopics(ctx context.Context, subjectID SubjectID, level, limit int) (int, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if limit > 0 {
		tag, err = s.q.Exec(ctx, `
			DELETE FROM topics WHERE id IN (
				SELECT id FROM topics WHERE subject_id = $1 AND level = $2
				ORDER BY created_at, id LIMIT $3
			)
		`, subjectID, level, limit)
	} else {
		tag, err = s.q.Exec(ctx, `DELETE FROM topics WHERE subject_id = $1 AND level = $2`, subjectID, level)
	}
	if err != nil {
		return 0, fmt.Errorf("delete topics at level %d: %w", level, classifyPgError("delete_topics", 0, err))
	}
	return int(tag.RowsAffected()), nil
}

// InsertTopics implements Store. The batch is sent as column arrays in one
// statement under its own transaction, or a savepoint when the store is
// already bound to one.
func (s *PostgresStore) InsertTopics(ctx context.Context, rows []TopicRow) ([]Topic, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	subjects := make([]string, len(rows))
	codes := make([]string, len(rows))
	titles := make([]string, len(rows))
	levels := make([]int32, len(rows))
	for i, r := range rows {
		subjects[i] = r.SubjectID
		codes[i] = r.Code
		titles[i] = r.Title
		levels[i] = int32(r.Level)
	}

	var out []Topic
	err := pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		if s.statementTimeout > 0 {
			ms := s.statementTimeout.Milliseconds()
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)); err != nil {
				return err
			}
		}

		result, err := tx.Query(ctx, `
			INSERT INTO topics (subject_id, code, title, level)
			SELECT * FROM unnest($1::uuid[], $2::text[], $3::text[], $4::int[])
			RETURNING id::text, subject_id::text, code, title, level
		`, subjects, codes, titles, levels)
		if err != nil {
			return err
		}
		inserted, err := pgx.CollectRows(result, func(row pgx.CollectableRow) (Topic, error) {
			var t Topic
			err := row.Scan(&t.ID, &t.SubjectID, &t.Code, &t.Title, &t.Level)
			return t, err
		})
		if err != nil {
			return err
		}

		byCode := make(map[string]Topic, len(inserted))
		for _, t := range inserted {
			byCode[t.SubjectID+"\x00"+t.Code] = t
		}
		out = make([]Topic, 0, len(rows))
		for _, r := range rows {
			t, ok := byCode[r.SubjectID+"\x00"+r.Code]
			if !ok {
				return fmt.Errorf("inserted topic %s missing from result", r.Code)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert %d topics: %w", len(rows), classifyPgError("insert_topics", len(rows), err))
	}
	return out, nil
}

// UpdateTopicParent implements Store.
func (s *PostgresStore) UpdateTopicParent(ctx context.Context, id, parentID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	tag, err := s.q.Exec(ctx, `UPDATE topics SET parent_id = $2 WHERE id = $1`, id, parentID)
	if err != nil {
		return fmt.Errorf("update parent of topic %s: %w", id, classifyPgError("update_topic_parent", 0, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return nil
}

// Topics implements Store.
func (s *PostgresStore) Topics(ctx context.Context, subjectID SubjectID) ([]Topic, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id::text, subject_id::text, code, title, level, COALESCE(parent_id::text, '')
		FROM topics WHERE subject_id = $1 ORDER BY created_at, id
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", classifyPgError("topics", 0, err))
	}
	topics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Topic, error) {
		var t Topic
		err := row.Scan(&t.ID, &t.SubjectID, &t.Code, &t.Title, &t.Level, &t.ParentID)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect topics: %w", err)
	}
	return topics, nil
}

// InTx implements Transactor.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, q: tx, inTx: true, statementTimeout: s.statementTimeout})
	})
}

// Close implements Store. Closing a transaction-bound store is a no-op.
func (s *PostgresStore) Close() error {
	if s.inTx || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// classifyPgError maps server errors onto the store's error contract.
func classifyPgError(op string, rows int, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgQueryCanceled:
			return &TimeoutError{Op: op, Rows: rows, Err: err}
		case pgUniqueViolation, pgFKViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Rows: rows, Err: err}
	}
	return err
}

// Compile-time interface checks.
var (
	_ Store      = (*PostgresStore)(nil)
	_ Transactor = (*PostgresStore)(nil)
)
