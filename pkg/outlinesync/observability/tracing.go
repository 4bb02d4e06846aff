package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("outlinesync")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for an orchestrator run.
	StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span)

	// StartJobSpan starts a span for one job, as a child of the run span.
	StartJobSpan(ctx context.Context, jobID string) (context.Context, trace.Span)

	// StartSyncSpan starts a span for one subject's tree replacement.
	StartSyncSpan(ctx context.Context, subjectID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager using the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "outlinesync.run",
		trace.WithAttributes(attribute.String("run.id", runID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartJobSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "outlinesync.job",
		trace.WithAttributes(attribute.String("job.id", jobID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartSyncSpan(ctx context.Context, subjectID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "outlinesync.sync",
		trace.WithAttributes(attribute.String("subject.id", subjectID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
