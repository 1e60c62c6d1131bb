package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts the span covering one Run or Resume call.
	StartRunSpan(ctx context.Context, graphName, runID string) (context.Context, trace.Span)

	// StartNodeSpan starts a child span for one node execution.
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)

	// StartToolSpan starts a child span for one tool invocation.
	StartToolSpan(ctx context.Context, tool, callID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, recording err if non-nil.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager on the global tracer provider.
func NewSpanManager() SpanManager {
	return NewSpanManagerFrom(otel.GetTracerProvider())
}

// NewSpanManagerFrom returns a SpanManager on a specific provider.
func NewSpanManagerFrom(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer(InstrumentationName)}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, graphName, runID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "reportgraph.run",
		trace.WithAttributes(
			attribute.String("graph.name", graphName),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "reportgraph.node."+nodeID,
		trace.WithAttributes(attribute.String("node.id", nodeID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartToolSpan(ctx context.Context, tool, callID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "reportgraph.tool."+tool,
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.call_id", callID),
		),
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
