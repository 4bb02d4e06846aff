package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records ingestion metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordJob records a finished job with its terminal status.
	RecordJob(ctx context.Context, status string, duration time.Duration)

	// RecordSync records a tree replacement.
	RecordSync(ctx context.Context, inserted int, duration time.Duration, err error)

	// RecordInsertBatch records one store insert call.
	RecordInsertBatch(ctx context.Context, size int, err error)

	// RecordBatchSplit records a timed-out batch being halved.
	RecordBatchSplit(ctx context.Context, size int)

	// RecordCheckpoint records a checkpoint save.
	RecordCheckpoint(ctx context.Context, entries int, err error)
}

type otelMetrics struct {
	jobRuns        metric.Int64Counter
	jobLatency     metric.Float64Histogram
	syncRuns       metric.Int64Counter
	syncLatency    metric.Float64Histogram
	rowsInserted   metric.Int64Counter
	insertBatches  metric.Int64Histogram
	batchSplits    metric.Int64Counter
	checkpointSave metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("outlinesync")
	m := &otelMetrics{}
	var err error

	if m.jobRuns, err = meter.Int64Counter("outlinesync.job.runs",
		metric.WithDescription("Number of finished jobs by status"),
	); err != nil {
		return nil, err
	}
	if m.jobLatency, err = meter.Float64Histogram("outlinesync.job.latency_ms",
		metric.WithDescription("Job wall-clock time in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.syncRuns, err = meter.Int64Counter("outlinesync.sync.runs",
		metric.WithDescription("Number of tree replacements"),
	); err != nil {
		return nil, err
	}
	if m.syncLatency, err = meter.Float64Histogram("outlinesync.sync.latency_ms",
		metric.WithDescription("Tree replacement latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.rowsInserted, err = meter.Int64Counter("outlinesync.topics.inserted",
		metric.WithDescription("Number of topic rows inserted"),
	); err != nil {
		return nil, err
	}
	if m.insertBatches, err = meter.Int64Histogram("outlinesync.insert.batch_size",
		metric.WithDescription("Rows per store insert call"),
	); err != nil {
		return nil, err
	}
	if m.batchSplits, err = meter.Int64Counter("outlinesync.insert.splits",
		metric.WithDescription("Number of timed-out insert batches split in half"),
	); err != nil {
		return nil, err
	}
	if m.checkpointSave, err = meter.Int64Counter("outlinesync.checkpoint.saves",
		metric.WithDescription("Number of checkpoint writes"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider. If initialization fails, it returns a no-op recorder.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordJob(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.jobRuns.Add(ctx, 1, attrs)
	m.jobLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordSync(ctx context.Context, inserted int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.syncRuns.Add(ctx, 1, attrs)
	m.syncLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordInsertBatch(ctx context.Context, size int, err error) {
	m.insertBatches.Record(ctx, int64(size), metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err == nil {
		m.rowsInserted.Add(ctx, int64(size))
	}
}

func (m *otelMetrics) RecordBatchSplit(ctx context.Context, size int) {
	m.batchSplits.Add(ctx, 1, metric.WithAttributes(attribute.Int("batch_size", size)))
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, entries int, err error) {
	m.checkpointSave.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", err == nil),
		attribute.Int("entries", entries),
	))
}
