package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestSpanManager(t *testing.T) (SpanManager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewSpanManagerFrom(tp), exporter
}

func TestSpanManager_Hierarchy(t *testing.T) {
	sm, exporter := newTestSpanManager(t)

	ctx, run := sm.StartRunSpan(context.Background(), "research", "session-1")
	nodeCtx, node := sm.StartNodeSpan(ctx, "tools")
	_, tool := sm.StartToolSpan(nodeCtx, "tavily_search", "call-1")
	sm.EndSpanWithError(tool, errors.New("http 502"))
	sm.EndSpanWithError(node, nil)
	sm.EndSpanWithError(run, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	runSpan := byName["reportgraph.run"]
	nodeSpan := byName["reportgraph.node.tools"]
	toolSpan := byName["reportgraph.tool.tavily_search"]

	assert.Equal(t, runSpan.SpanContext.SpanID(), nodeSpan.Parent.SpanID())
	assert.Equal(t, nodeSpan.SpanContext.SpanID(), toolSpan.Parent.SpanID())
	assert.Equal(t, codes.Error, toolSpan.Status.Code)
	assert.Equal(t, codes.Ok, runSpan.Status.Code)
	assert.Contains(t, runSpan.Attributes, attribute.String("run.id", "session-1"))
	assert.Contains(t, toolSpan.Attributes, attribute.String("tool.call_id", "call-1"))
}

func TestSpanManager_AddSpanEvent(t *testing.T) {
	sm, exporter := newTestSpanManager(t)

	ctx, run := sm.StartRunSpan(context.Background(), "research", "s")
	sm.AddSpanEvent(ctx, "interrupted", attribute.String("pending", "call-9"))
	sm.EndSpanWithError(run, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "interrupted", spans[0].Events[0].Name)

	assert.NotPanics(t, func() {
		sm.AddSpanEvent(context.Background(), "no-span")
		sm.EndSpanWithError(nil, nil)
	})
}

func TestNoopSpanManager(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartRunSpan(ctx, "g", "r")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	_, span = sm.StartToolSpan(ctx, "t", "c")
	assert.NotPanics(t, func() { sm.EndSpanWithError(span, errors.New("x")) })
}
