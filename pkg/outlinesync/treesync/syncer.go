// Package treesync replaces a subject's persisted topic tree with a new
// node list.
//
// A replacement deletes the existing topics deepest level first, inserts the
// new nodes through an adaptive batch inserter, then links each topic to its
// parent in a second pass once every identity is known. When the store
// supports transactions the three steps run in one transaction; otherwise a
// failed replacement may leave a mixed tree, and repeating it with the same
// nodes converges.
package treesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/batch"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/hierarchy"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/observability"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/store"
)

// DefaultDeletePageSize bounds each delete call.
const DefaultDeletePageSize = 500

// Result counts the rows touched by a replacement.
type Result struct {
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
	Linked   int `json:"linked"`
	Splits   int `json:"splits"`
}

// Syncer replaces topic trees in a store.
type Syncer struct {
	store          store.Store
	deletePageSize int
	batchSize      int
	transactional  bool
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithDeletePageSize sets how many topics one delete call may remove.
// Zero or negative removes a whole level per call.
func WithDeletePageSize(n int) Option {
	return func(s *Syncer) { s.deletePageSize = n }
}

// WithBatchSize sets the inserter's initial preferred batch size.
func WithBatchSize(n int) Option {
	return func(s *Syncer) { s.batchSize = n }
}

// WithTransactions controls whether a transactional store runs each
// replacement in one transaction. Enabled by default.
func WithTransactions(enabled bool) Option {
	return func(s *Syncer) { s.transactional = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Syncer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(m observability.SpanManager) Option {
	return func(s *Syncer) {
		if m != nil {
			s.spans = m
		}
	}
}

// New creates a Syncer over st.
func New(st store.Store, opts ...Option) *Syncer {
	s := &Syncer{
		store:          st,
		deletePageSize: DefaultDeletePageSize,
		transactional:  true,
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync upserts the subject identified by key and replaces its tree.
func (s *Syncer) Sync(ctx context.Context, key store.SubjectKey, fields store.SubjectFields, nodes []hierarchy.Node) (store.SubjectID, Result, error) {
	if err := hierarchy.Validate(nodes); err != nil {
		return "", Result{}, &SyncError{Step: StepValidate, Err: err}
	}

	subjectID, err := s.store.UpsertSubject(ctx, key, fields)
	if err != nil {
		return "", Result{}, &SyncError{Step: StepSubject, Err: fmt.Errorf("%s: %w", key, err)}
	}

	res, err := s.Replace(ctx, subjectID, nodes)
	return subjectID, res, err
}

// Replace makes the subject's topic set equal nodes. Nodes must satisfy
// hierarchy.Validate; an invalid list fails before the store is touched.
func (s *Syncer) Replace(ctx context.Context, subjectID store.SubjectID, nodes []hierarchy.Node) (res Result, err error) {
	ctx, span := s.spans.StartSyncSpan(ctx, subjectID)
	start := time.Now()
	defer func() {
		s.metrics.RecordSync(ctx, res.Inserted, time.Since(start), err)
		s.spans.EndSpanWithError(span, err)
	}()

	if err := hierarchy.Validate(nodes); err != nil {
		return Result{}, &SyncError{Step: StepValidate, SubjectID: subjectID, Err: err}
	}

	tx, ok := s.store.(store.Transactor)
	if ok && s.transactional {
		err = tx.InTx(ctx, func(bound store.Store) error {
			var rerr error
			res, rerr = s.replace(ctx, bound, subjectID, nodes)
			return rerr
		})
		if err != nil {
			// Rolled back: nothing from this attempt persisted.
			return Result{}, err
		}
	} else {
		res, err = s.replace(ctx, s.store, subjectID, nodes)
		if err != nil {
			return res, err
		}
	}

	observability.LogSyncComplete(s.logger, subjectID, res.Deleted, res.Inserted, res.Linked, float64(time.Since(start).Milliseconds()))
	return res, nil
}

func (s *Syncer) replace(ctx context.Context, st store.Store, subjectID store.SubjectID, nodes []hierarchy.Node) (Result, error) {
	var res Result

	deleted, err := s.deleteTree(ctx, st, subjectID)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}
	s.spans.AddSpanEvent(ctx, "topics.deleted")

	rows := make([]store.TopicRow, len(nodes))
	for i, n := range nodes {
		rows[i] = store.TopicRow{SubjectID: subjectID, Code: n.Code, Title: n.Title, Level: n.Level}
	}

	inserter := batch.New(st,
		batch.WithBatchSize(s.batchSize),
		batch.WithLogger(s.logger),
		batch.WithMetrics(s.metrics),
	)
	topics, err := inserter.Insert(ctx, rows)
	res.Inserted = len(topics)
	res.Splits = inserter.Stats().Splits
	if err != nil {
		return res, &SyncError{Step: StepInsert, SubjectID: subjectID, Err: err}
	}
	s.spans.AddSpanEvent(ctx, "topics.inserted")

	ids := make(map[string]string, len(topics))
	for _, t := range topics {
		ids[t.Code] = t.ID
	}

	for _, n := range nodes {
		if !n.HasParent() {
			continue
		}
		id, parentID := ids[n.Code], ids[n.ParentCode]
		if id == "" || parentID == "" {
			return res, &SyncError{
				Step:      StepLink,
				SubjectID: subjectID,
				Err:       fmt.Errorf("no identity for %s or its parent %s: %w", n.Code, n.ParentCode, store.ErrNotFound),
			}
		}
		if err := st.UpdateTopicParent(ctx, id, parentID); err != nil {
			return res, &SyncError{Step: StepLink, SubjectID: subjectID, Err: err}
		}
		res.Linked++
	}

	return res, nil
}

// deleteTree removes every topic of the subject, deepest level first, in
// pages of at most deletePageSize.
func (s *Syncer) deleteTree(ctx context.Context, st store.Store, subjectID store.SubjectID) (int, error) {
	levels, err := st.TopicLevels(ctx, subjectID)
	if err != nil {
		return 0, &SyncError{Step: StepLevels, SubjectID: subjectID, Err: err}
	}

	deleted := 0
	for i := len(levels) - 1; i >= 0; i-- {
		level := levels[i]
		for {
			n, err := st.DeleteTopics(ctx, subjectID, level, s.deletePageSize)
			if err != nil {
				return deleted, &SyncError{Step: StepDelete, SubjectID: subjectID, Err: fmt.Errorf("level %d: %w", level, err)}
			}
			deleted += n
			if n == 0 || s.deletePageSize <= 0 {
				break
			}
		}
		s.logger.Debug("deleted topic level",
			slog.String("subject_id", subjectID),
			slog.Int("level", level),
		)
	}
	return deleted, nil
}
