package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, opts ...SQLiteOption) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "staging.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		return openTestSQLite(t)
	})
}

func TestSQLiteStore_LargeInsertIsChunked(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	sid, err := s.UpsertSubject(ctx, SubjectKey{Code: "big"}, SubjectFields{})
	require.NoError(t, err)

	rows := make([]TopicRow, sqliteChunkRows*2+7)
	for i := range rows {
		rows[i] = TopicRow{SubjectID: sid, Code: "T-" + strconv.Itoa(i), Title: "t", Level: i % 3}
	}
	got, err := s.InsertTopics(ctx, rows)
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	assert.Equal(t, "T-0", got[0].Code)
	assert.Equal(t, rows[len(rows)-1].Code, got[len(got)-1].Code)
}

func TestSQLiteStore_CallTimeout(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, WithCallTimeout(time.Nanosecond))
	sid, err := s.UpsertSubject(ctx, SubjectKey{Code: "slow"}, SubjectFields{})
	require.NoError(t, err)

	_, err = s.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "a", Title: "a"}})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)

	topics, err := s.Topics(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestSQLiteStore_CallTimeoutSkippedInTx(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, WithCallTimeout(time.Nanosecond))
	sid, err := s.UpsertSubject(ctx, SubjectKey{Code: "tx"}, SubjectFields{})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx Store) error {
		_, err := tx.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "a", Title: "a"}})
		return err
	})
	require.NoError(t, err)

	topics, err := s.Topics(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, topics, 1)
}

func TestSQLiteStore_InvalidID(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.TopicLevels(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "staging.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	sid, err := s.UpsertSubject(ctx, SubjectKey{Code: "p"}, SubjectFields{})
	require.NoError(t, err)
	_, err = s.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "a", Title: "a"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	topics, err := s.Topics(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, topics, 1)
}
