package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_TimeoutThreshold(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithTimeoutThreshold(3))
	sid, err := s.UpsertSubject(ctx, SubjectKey{Code: "1"}, SubjectFields{})
	require.NoError(t, err)

	rows := []TopicRow{
		{SubjectID: sid, Code: "a"},
		{SubjectID: sid, Code: "b"},
		{SubjectID: sid, Code: "c"},
	}
	_, err = s.InsertTopics(ctx, rows)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 0, s.Len(), "timed-out batch must not persist rows")

	_, err = s.InsertTopics(ctx, rows[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int{3, 2}, s.InsertBatchSizes())
}

func TestMemoryStore_FailNext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")
	s.FailNext("upsert_subject", boom)

	_, err := s.UpsertSubject(ctx, SubjectKey{Code: "1"}, SubjectFields{})
	assert.ErrorIs(t, err, boom)

	_, err = s.UpsertSubject(ctx, SubjectKey{Code: "1"}, SubjectFields{})
	assert.NoError(t, err, "injected failure fires once")
	assert.Equal(t, 2, s.Calls("upsert_subject"))
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.TopicLevels(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.InTx(context.Background(), func(Store) error { return nil }), ErrClosed)
}

func TestTimeoutError(t *testing.T) {
	cause := errors.New("canceling statement due to statement timeout")
	err := error(&TimeoutError{Op: "insert_topics", Rows: 10, Err: cause})

	assert.True(t, IsTimeout(err))
	assert.True(t, IsTimeout(errors.Join(errors.New("outer"), err)))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "10 rows")
	assert.False(t, IsTimeout(cause))
}
