// Package batch inserts topic rows through a store, shrinking batches when
// the store reports an execution-time limit.
//
// A batch that times out is split into two halves which are retried in
// order, and the preferred size for the rest of the input drops to the half
// size. Splitting stops at single rows: a timeout on one row is returned to
// the caller unchanged, as is any error that is not a timeout.
package batch

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/observability"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/store"
)

// Stats describes the last Insert call.
type Stats struct {
	Batches int // store calls made, including timed-out ones
	Splits  int // timed-out batches that were halved
	Rows    int // rows persisted
}

// Inserter writes rows in adaptively sized batches.
type Inserter struct {
	store     store.Store
	batchSize int
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	stats     Stats
}

// Option configures an Inserter.
type Option func(*Inserter)

// WithBatchSize sets the initial preferred batch size. Zero or negative
// sends the whole input as the first batch.
func WithBatchSize(n int) Option {
	return func(i *Inserter) { i.batchSize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Inserter) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(i *Inserter) {
		if m != nil {
			i.metrics = m
		}
	}
}

// New creates an Inserter writing to s.
func New(s store.Store, opts ...Option) *Inserter {
	i := &Inserter{
		store:   s,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Insert persists every row and returns the persisted topics in input
// order. On error some leading rows may already be persisted; rows are never
// persisted twice.
func (i *Inserter) Insert(ctx context.Context, rows []store.TopicRow) ([]store.Topic, error) {
	i.stats = Stats{}
	if len(rows) == 0 {
		return nil, nil
	}

	preferred := i.batchSize
	if preferred <= 0 || preferred > len(rows) {
		preferred = len(rows)
	}

	out := make([]store.Topic, 0, len(rows))

	// pending holds split halves awaiting retry, top of stack last. It is
	// drained before the next chunk is cut from rows[next:], which keeps the
	// output in input order.
	var pending [][]store.TopicRow
	next := 0

	for len(pending) > 0 || next < len(rows) {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var chunk []store.TopicRow
		if n := len(pending); n > 0 {
			chunk = pending[n-1]
			pending = pending[:n-1]
		} else {
			end := min(next+preferred, len(rows))
			chunk = rows[next:end]
			next = end
		}

		i.stats.Batches++
		inserted, err := i.store.InsertTopics(ctx, chunk)
		i.metrics.RecordInsertBatch(ctx, len(chunk), err)
		if err == nil {
			out = append(out, inserted...)
			i.stats.Rows += len(inserted)
			continue
		}

		if !store.IsTimeout(err) || len(chunk) == 1 {
			return out, err
		}

		half := len(chunk) / 2
		pending = append(pending, chunk[half:], chunk[:half])
		if half < preferred {
			preferred = max(1, half)
		}
		i.stats.Splits++
		i.metrics.RecordBatchSplit(ctx, len(chunk))
		observability.LogBatchSplit(i.logger, len(chunk), preferred)
	}

	return out, nil
}

// Stats returns counters for the last Insert call.
func (i *Inserter) Stats() Stats {
	return i.stats
}
