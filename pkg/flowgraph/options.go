package flowgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/observability"
)

const (
	// DefaultMaxIterations bounds node executions per Run or Resume call.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the largest value WithMaxIterations accepts.
	MaxIterationsLimit = 100000
)

// CheckpointMode selects which node completions are persisted.
type CheckpointMode int

const (
	// CheckpointEveryNode saves after every successful node, which allows
	// crash recovery from the last completed node.
	CheckpointEveryNode CheckpointMode = iota
	// CheckpointInterruptsOnly saves only when an interrupt node completes.
	// A run that reaches END leaves nothing behind.
	CheckpointInterruptsOnly
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	checkpointStore        checkpoint.Store
	checkpointMode         CheckpointMode
	checkpointFailureFatal bool
	runID                  string
	sequence               int

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: DefaultMaxIterations.
//
// Panics if n <= 0 or n > MaxIterationsLimit.
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("flowgraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("flowgraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithCheckpointing enables checkpoint persistence. A run ID must also be
// supplied with WithRunID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithCheckpointMode selects which completions are persisted.
// Default: CheckpointEveryNode.
func WithCheckpointMode(mode CheckpointMode) RunOption {
	return func(c *runConfig) {
		c.checkpointMode = mode
	}
}

// WithCheckpointFailureFatal makes a failed checkpoint save abort the run.
// Interrupt checkpoints are always fatal on failure since the run cannot
// suspend without them.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithRunID sets the run identifier used as the checkpoint key.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithObservabilityLogger sets the logger for run, node and checkpoint
// lifecycle events. Nil disables lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics from the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder installs a specific recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		c.metrics = m
	}
}

// WithTracing enables OpenTelemetry spans from the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSpanManager installs a specific span manager and enables tracing.
func WithSpanManager(sm observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if sm == nil {
			c.tracingEnabled = false
			c.spans = observability.NoopSpanManager{}
			return
		}
		c.tracingEnabled = true
		c.spans = sm
	}
}

// resumeConfig holds Resume-only settings.
type resumeConfig struct {
	run         []RunOption
	stateUpdate func(any) (any, error)
	replayNode  bool
}

// ResumeOption configures Resume.
type ResumeOption func(*resumeConfig)

// WithStateUpdate applies fn to the checkpointed state before execution
// continues. This is how external input (a human response) enters a
// suspended run. If fn returns an error, Resume returns it and leaves the
// checkpoint in place.
func WithStateUpdate[S any](fn func(S) (S, error)) ResumeOption {
	return func(c *resumeConfig) {
		c.stateUpdate = func(v any) (any, error) {
			s, ok := v.(S)
			if !ok {
				return v, fmt.Errorf("state update expects %T, got %T", s, v)
			}
			return fn(s)
		}
	}
}

// WithReplayNode re-executes the checkpointed node instead of continuing
// with its successor.
func WithReplayNode() ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = true
	}
}

// WithResumeRunOptions forwards run options (logger, metrics, limits) to
// the resumed execution.
func WithResumeRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.run = append(c.run, opts...)
	}
}
