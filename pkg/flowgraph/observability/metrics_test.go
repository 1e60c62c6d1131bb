package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRecorder(t *testing.T) (MetricsRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewMetricsRecorderFrom(provider)
	require.NoError(t, err)
	return rec, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_NodeExecution(t *testing.T) {
	rec, reader := newTestRecorder(t)
	ctx := context.Background()

	rec.RecordNodeExecution(ctx, "call_model", 5*time.Millisecond, nil)
	rec.RecordNodeExecution(ctx, "call_model", 5*time.Millisecond, errors.New("x"))
	rec.RecordNodeExecution(ctx, "tools", time.Millisecond, nil)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "reportgraph.node.executions"), "node_id", "call_model"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "reportgraph.node.errors"), "node_id", "call_model"))
	assert.NotNil(t, findMetric(rm, "reportgraph.node.latency_ms"))
}

func TestMetrics_GraphRunOutcomes(t *testing.T) {
	rec, reader := newTestRecorder(t)
	ctx := context.Background()

	rec.RecordGraphRun(ctx, OutcomeCompleted, time.Millisecond)
	rec.RecordGraphRun(ctx, OutcomeInterrupted, time.Millisecond)
	rec.RecordGraphRun(ctx, OutcomeInterrupted, time.Millisecond)

	rm := collectMetrics(t, reader)
	runs := findMetric(rm, "reportgraph.graph.runs")
	assert.Equal(t, int64(1), sumFor(t, runs, "outcome", OutcomeCompleted))
	assert.Equal(t, int64(2), sumFor(t, runs, "outcome", OutcomeInterrupted))
	assert.Equal(t, int64(0), sumFor(t, runs, "outcome", OutcomeFailed))
}

func TestMetrics_ToolsInterruptsCheckpoints(t *testing.T) {
	rec, reader := newTestRecorder(t)
	ctx := context.Background()

	rec.RecordToolCall(ctx, "tavily_search", time.Millisecond, nil)
	rec.RecordToolCall(ctx, "tavily_search", time.Millisecond, errors.New("x"))
	rec.RecordInterrupt(ctx, "ask_human")
	rec.RecordCheckpoint(ctx, "ask_human", 1024)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "reportgraph.tool.calls"), "tool", "tavily_search"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "reportgraph.tool.errors"), "tool", "tavily_search"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "reportgraph.interrupts"), "node_id", "ask_human"))

	size := findMetric(rm, "reportgraph.checkpoint.size_bytes")
	require.NotNil(t, size)
	hist, ok := size.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, int64(1024), hist.DataPoints[0].Sum)
}

func TestNewMetricsRecorder_Global(t *testing.T) {
	rec := NewMetricsRecorder()
	require.NotNil(t, rec)
	assert.NotPanics(t, func() {
		rec.RecordGraphRun(context.Background(), OutcomeCompleted, time.Millisecond)
	})
}

func TestNoopMetrics(t *testing.T) {
	var rec MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		rec.RecordNodeExecution(ctx, "n", time.Second, errors.New("x"))
		rec.RecordGraphRun(ctx, OutcomeFailed, time.Second)
		rec.RecordCheckpoint(ctx, "n", 1)
		rec.RecordInterrupt(ctx, "n")
		rec.RecordToolCall(ctx, "t", time.Second, nil)
	})
}
