package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordJob(context.Context, string, time.Duration)       {}
func (NoopMetrics) RecordSync(context.Context, int, time.Duration, error) {}
func (NoopMetrics) RecordInsertBatch(context.Context, int, error)         {}
func (NoopMetrics) RecordBatchSplit(context.Context, int)                 {}
func (NoopMetrics) RecordCheckpoint(context.Context, int, error)          {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartRunSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartRunSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartJobSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartJobSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartSyncSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartSyncSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error)                         {}
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
