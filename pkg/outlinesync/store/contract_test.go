package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises behavior every Store implementation must share.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	key := SubjectKey{Code: "8145", QualificationType: "GCSE", Board: "AQA"}

	t.Run("upsert subject is stable", func(t *testing.T) {
		s := open(t)
		id1, err := s.UpsertSubject(ctx, key, SubjectFields{Name: "History"})
		require.NoError(t, err)
		id2, err := s.UpsertSubject(ctx, key, SubjectFields{Name: "History (9-1)"})
		require.NoError(t, err)
		assert.Equal(t, id1, id2)

		other, err := s.UpsertSubject(ctx, SubjectKey{Code: "8145", QualificationType: "A-Level", Board: "AQA"}, SubjectFields{})
		require.NoError(t, err)
		assert.NotEqual(t, id1, other)
	})

	t.Run("insert returns rows in input order", func(t *testing.T) {
		s := open(t)
		sid, err := s.UpsertSubject(ctx, key, SubjectFields{})
		require.NoError(t, err)

		rows := []TopicRow{
			{SubjectID: sid, Code: "X-1", Title: "Intro", Level: 0},
			{SubjectID: sid, Code: "X-1_1", Title: "Basics", Level: 1},
			{SubjectID: sid, Code: "X-2", Title: "Outro", Level: 0},
		}
		got, err := s.InsertTopics(ctx, rows)
		require.NoError(t, err)
		require.Len(t, got, 3)
		for i, r := range rows {
			assert.Equal(t, r.Code, got[i].Code)
			assert.Equal(t, r.Level, got[i].Level)
			assert.NotEmpty(t, got[i].ID)
		}

		levels, err := s.TopicLevels(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1}, levels)
	})

	t.Run("duplicate code fails whole batch", func(t *testing.T) {
		s := open(t)
		sid, err := s.UpsertSubject(ctx, key, SubjectFields{})
		require.NoError(t, err)

		_, err = s.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "X-1", Title: "a"}})
		require.NoError(t, err)

		_, err = s.InsertTopics(ctx, []TopicRow{
			{SubjectID: sid, Code: "X-2", Title: "b"},
			{SubjectID: sid, Code: "X-1", Title: "dup"},
		})
		require.Error(t, err)

		topics, err := s.Topics(ctx, sid)
		require.NoError(t, err)
		assert.Len(t, topics, 1, "failed batch must not persist any row")
	})

	t.Run("parent link and paged delete", func(t *testing.T) {
		s := open(t)
		sid, err := s.UpsertSubject(ctx, key, SubjectFields{})
		require.NoError(t, err)

		got, err := s.InsertTopics(ctx, []TopicRow{
			{SubjectID: sid, Code: "X-1", Title: "a", Level: 0},
			{SubjectID: sid, Code: "X-1_1", Title: "b", Level: 1},
			{SubjectID: sid, Code: "X-1_2", Title: "c", Level: 1},
			{SubjectID: sid, Code: "X-1_3", Title: "d", Level: 1},
		})
		require.NoError(t, err)
		for _, child := range got[1:] {
			require.NoError(t, s.UpdateTopicParent(ctx, child.ID, got[0].ID))
		}

		topics, err := s.Topics(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, got[0].ID, topics[1].ParentID)
		assert.Empty(t, topics[0].ParentID)

		n, err := s.DeleteTopics(ctx, sid, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.DeleteTopics(ctx, sid, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.DeleteTopics(ctx, sid, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = s.DeleteTopics(ctx, sid, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		levels, err := s.TopicLevels(ctx, sid)
		require.NoError(t, err)
		assert.Empty(t, levels)
	})

	t.Run("delete refuses referenced parent", func(t *testing.T) {
		s := open(t)
		sid, err := s.UpsertSubject(ctx, key, SubjectFields{})
		require.NoError(t, err)

		got, err := s.InsertTopics(ctx, []TopicRow{
			{SubjectID: sid, Code: "X-1", Title: "a", Level: 0},
			{SubjectID: sid, Code: "X-1_1", Title: "b", Level: 1},
		})
		require.NoError(t, err)
		require.NoError(t, s.UpdateTopicParent(ctx, got[1].ID, got[0].ID))

		_, err = s.DeleteTopics(ctx, sid, 0, 0)
		require.Error(t, err)
	})

	t.Run("update missing topic", func(t *testing.T) {
		s := open(t)
		sid, err := s.UpsertSubject(ctx, key, SubjectFields{})
		require.NoError(t, err)
		got, err := s.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "X-1", Title: "a"}})
		require.NoError(t, err)

		err = s.UpdateTopicParent(ctx, "999999", got[0].ID)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("transaction rolls back", func(t *testing.T) {
		s := open(t)
		tx, ok := s.(Transactor)
		if !ok {
			t.Skip("store is not transactional")
		}
		sid, err := s.UpsertSubject(ctx, key, SubjectFields{})
		require.NoError(t, err)

		boom := errors.New("boom")
		err = tx.InTx(ctx, func(bound Store) error {
			if _, err := bound.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "X-1", Title: "a"}}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		topics, err := s.Topics(ctx, sid)
		require.NoError(t, err)
		assert.Empty(t, topics)

		err = tx.InTx(ctx, func(bound Store) error {
			_, err := bound.InsertTopics(ctx, []TopicRow{{SubjectID: sid, Code: "X-1", Title: "a"}})
			return err
		})
		require.NoError(t, err)
		topics, err = s.Topics(ctx, sid)
		require.NoError(t, err)
		assert.Len(t, topics, 1)
	})
}
