package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process staging store for tests and dry runs.
// Data is lost when the process exits.
//
// It enforces the same constraints as the SQL adapters: topic codes are
// unique per subject, and a topic cannot be deleted while another topic
// still references it as parent.
type MemoryStore struct {
	mu       sync.Mutex
	subjects map[SubjectKey]memorySubject
	topics   map[string]memoryTopic
	seq      int
	closed   bool

	timeoutAt int
	calls     map[string]int
	failNext  map[string]error
	batches   []int
}

type memorySubject struct {
	id     SubjectID
	fields SubjectFields
}

type memoryTopic struct {
	Topic
	seq int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTimeoutThreshold makes every InsertTopics call with at least k rows
// fail with *TimeoutError without inserting anything. Zero disables it.
func WithTimeoutThreshold(k int) MemoryOption {
	return func(m *MemoryStore) { m.timeoutAt = k }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		subjects: make(map[SubjectKey]memorySubject),
		topics:   make(map[string]memoryTopic),
		calls:    make(map[string]int),
		failNext: make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext makes the next call of op ("insert_topics", "delete_topics",
// "update_topic_parent", "upsert_subject", "topic_levels") return err.
func (m *MemoryStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] = err
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// InsertBatchSizes returns the size of every InsertTopics call, in order.
func (m *MemoryStore) InsertBatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batches...)
}

// begin records the call and returns an injected or closed error. Callers
// must hold m.mu.
func (m *MemoryStore) begin(op string) error {
	m.calls[op]++
	if m.closed {
		return ErrClosed
	}
	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)
		return err
	}
	return nil
}

// UpsertSubject implements Store.
func (m *MemoryStore) UpsertSubject(_ context.Context, key SubjectKey, fields SubjectFields) (SubjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("upsert_subject"); err != nil {
		return "", err
	}

	s, ok := m.subjects[key]
	if !ok {
		s.id = uuid.NewString()
	}
	s.fields = fields
	m.subjects[key] = s
	return s.id, nil
}

// TopicLevels implements Store.
func (m *MemoryStore) TopicLevels(_ context.Context, subjectID SubjectID) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("topic_levels"); err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	for _, t := range m.topics {
		if t.SubjectID == subjectID {
			seen[t.Level] = true
		}
	}
	levels := make([]int, 0, len(seen))
	for l := range seen {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels, nil
}

// DeleteTopics implements Store.
func (m *MemoryStore) DeleteTopics(_ context.Context, subjectID SubjectID, level, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("delete_topics"); err != nil {
		return 0, err
	}

	victims := make(map[string]bool)
	for _, t := range m.ordered(subjectID) {
		if limit > 0 && len(victims) >= limit {
			break
		}
		if t.Level == level {
			victims[t.ID] = true
		}
	}
	for _, t := range m.topics {
		if t.ParentID != "" && victims[t.ParentID] && !victims[t.ID] {
			return 0, fmt.Errorf("%w: topic %s still referenced by %s", ErrConflict, t.ParentID, t.ID)
		}
	}
	for id := range victims {
		delete(m.topics, id)
	}
	return len(victims), nil
}

// InsertTopics implements Store.
func (m *MemoryStore) InsertTopics(_ context.Context, rows []TopicRow) ([]Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("insert_topics"); err != nil {
		return nil, err
	}
	m.batches = append(m.batches, len(rows))

	if m.timeoutAt > 0 && len(rows) >= m.timeoutAt {
		return nil, &TimeoutError{Op: "insert_topics", Rows: len(rows)}
	}

	existing := make(map[string]bool)
	for _, t := range m.topics {
		existing[t.SubjectID+"\x00"+t.Code] = true
	}
	for _, r := range rows {
		k := r.SubjectID + "\x00" + r.Code
		if existing[k] {
			return nil, fmt.Errorf("%w: duplicate topic %s", ErrConflict, r.Code)
		}
		existing[k] = true
	}

	out := make([]Topic, 0, len(rows))
	for _, r := range rows {
		m.seq++
		t := Topic{
			ID:        uuid.NewString(),
			SubjectID: r.SubjectID,
			Code:      r.Code,
			Title:     r.Title,
			Level:     r.Level,
		}
		m.topics[t.ID] = memoryTopic{Topic: t, seq: m.seq}
		out = append(out, t)
	}
	return out, nil
}

// UpdateTopicParent implements Store.
func (m *MemoryStore) UpdateTopicParent(_ context.Context, id, parentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("update_topic_parent"); err != nil {
		return err
	}

	t, ok := m.topics[id]
	if !ok {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	if _, ok := m.topics[parentID]; !ok {
		return fmt.Errorf("parent topic %s: %w", parentID, ErrNotFound)
	}
	t.ParentID = parentID
	m.topics[id] = t
	return nil
}

// Topics implements Store.
func (m *MemoryStore) Topics(_ context.Context, subjectID SubjectID) ([]Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.ordered(subjectID), nil
}

// ordered returns a subject's topics by insertion sequence. Callers must
// hold m.mu.
func (m *MemoryStore) ordered(subjectID SubjectID) []Topic {
	list := make([]memoryTopic, 0)
	for _, t := range m.topics {
		if t.SubjectID == subjectID {
			list = append(list, t)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	out := make([]Topic, len(list))
	for i, t := range list {
		out[i] = t.Topic
	}
	return out
}

// InTx implements Transactor by snapshotting state and restoring it if fn
// fails.
func (m *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	subjects := maps.Clone(m.subjects)
	topics := maps.Clone(m.topics)
	seq := m.seq
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.subjects, m.topics, m.seq = subjects, topics, seq
		m.mu.Unlock()
		return err
	}
	return nil
}

// Len returns the total number of topics across subjects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Compile-time interface checks.
var (
	_ Store      = (*MemoryStore)(nil)
	_ Transactor = (*MemoryStore)(nil)
)
