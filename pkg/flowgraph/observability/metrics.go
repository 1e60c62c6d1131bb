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

// InstrumentationName is the meter and tracer scope name.
const InstrumentationName = "github.com/randalmurphal/reportgraph"

// Run outcomes reported by RecordGraphRun.
const (
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// MetricsRecorder records engine and workflow metrics.
type MetricsRecorder interface {
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)
	RecordGraphRun(ctx context.Context, outcome string, duration time.Duration)
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
	RecordInterrupt(ctx context.Context, nodeID string)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
}

type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	interrupts     metric.Int64Counter
	toolCalls      metric.Int64Counter
	toolErrors     metric.Int64Counter
	toolLatency    metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// NewMetricsRecorder returns a recorder on the global meter provider, or a
// no-op recorder if the instruments cannot be created. Set the provider
// with otel.SetMeterProvider before the first call.
func NewMetricsRecorder() MetricsRecorder {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	if defaultMetricsErr != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", defaultMetricsErr.Error()))
		return NoopMetrics{}
	}
	return defaultMetrics
}

// NewMetricsRecorderFrom creates a recorder on a specific provider.
func NewMetricsRecorderFrom(mp metric.MeterProvider) (MetricsRecorder, error) {
	return newOtelMetrics(mp)
}

func newOtelMetrics(mp metric.MeterProvider) (*otelMetrics, error) {
	meter := mp.Meter(InstrumentationName)
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("reportgraph.node.executions",
		metric.WithDescription("Number of node executions")); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("reportgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.nodeErrors, err = meter.Int64Counter("reportgraph.node.errors",
		metric.WithDescription("Number of node execution errors")); err != nil {
		return nil, err
	}
	if m.graphRuns, err = meter.Int64Counter("reportgraph.graph.runs",
		metric.WithDescription("Number of graph runs by outcome")); err != nil {
		return nil, err
	}
	if m.graphLatency, err = meter.Float64Histogram("reportgraph.graph.latency_ms",
		metric.WithDescription("Graph run latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.checkpointSize, err = meter.Int64Histogram("reportgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.interrupts, err = meter.Int64Counter("reportgraph.interrupts",
		metric.WithDescription("Number of runs suspended for human input")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("reportgraph.tool.calls",
		metric.WithDescription("Number of tool invocations")); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter("reportgraph.tool.errors",
		metric.WithDescription("Number of failed tool invocations")); err != nil {
		return nil, err
	}
	if m.toolLatency, err = meter.Float64Histogram("reportgraph.tool.latency_ms",
		metric.WithDescription("Tool invocation latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordInterrupt(ctx context.Context, nodeID string) {
	m.interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}
