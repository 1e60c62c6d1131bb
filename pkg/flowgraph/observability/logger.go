// Package observability holds the logging, metrics and tracing helpers used
// by the graph engine and the research workflow.
//
// Logging uses log/slog. Metrics and tracing use OpenTelemetry and are
// opt-in; the Noop implementations cost nothing when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs the start of a graph run or resume.
func LogRunStart(logger *slog.Logger, runID, startNode string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
		slog.String("start_node", startNode),
	)
}

// LogRunComplete logs a run that reached END.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunInterrupted logs a run that suspended at an interrupt node.
func LogRunInterrupted(logger *slog.Logger, runID, nodeID, pendingKey string, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run suspended",
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.String("pending", pendingKey),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs graph run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting", slog.String("node_id", nodeID))
}

func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID string, sizeBytes int, interrupted bool) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("size_bytes", sizeBytes),
		slog.Bool("interrupted", interrupted),
	)
}

// LogCheckpointError logs a checkpoint failure. Whether it aborted the run
// is decided by the caller.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogToolCall logs one tool invocation of an executor batch.
func LogToolCall(logger *slog.Logger, tool, callID string, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("tool call failed",
			slog.String("tool", tool),
			slog.String("call_id", callID),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("tool call completed",
		slog.String("tool", tool),
		slog.String("call_id", callID),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation returns a func reporting elapsed milliseconds since the call.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
