package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/observability"
	"github.com/randalmurphal/reportgraph/pkg/research"
	"github.com/randalmurphal/reportgraph/pkg/research/tools"
)

// runtime is a wired driver and the resources it holds.
type runtime struct {
	driver *research.Driver
	store  checkpoint.Store
}

func (r *runtime) Close() error {
	return errors.Join(r.driver.Close(), r.store.Close())
}

// wire builds the driver described by s around oracle. A nil oracle means
// the configured LLM provider.
func wire(ctx context.Context, s research.Settings, logger *slog.Logger, oracle research.Oracle) (*runtime, error) {
	client, err := llm.New(s.Provider, s.APIKey, s.LLMOptions()...)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	if oracle == nil {
		oracle = research.NewLLMOracle(client, s.OracleTimeout)
	}

	deps := tools.Deps{Writer: client}
	if s.TavilyKey != "" {
		var opts []tools.TavilyOption
		if s.TavilyURL != "" {
			opts = append(opts, tools.WithTavilyBaseURL(s.TavilyURL))
		}
		deps.Tavily = tools.NewTavilyClient(s.TavilyKey, opts...)
	} else {
		logger.Warn("no Tavily API key configured, web search is disabled")
	}
	reg, err := tools.NewRegistry(deps)
	if err != nil {
		return nil, err
	}

	store, err := openStore(s)
	if err != nil {
		return nil, err
	}

	opts := []research.DriverOption{
		research.WithCheckpointStore(store),
		research.WithApprovalActions(s.Approvals...),
		research.WithLogger(logger),
		research.WithMaxIterations(s.MaxIterations),
		research.WithExecutorOptions(research.WithToolTimeout(s.ToolTimeout)),
	}
	if s.Telemetry {
		opts = append(opts,
			research.WithMetrics(observability.NewMetricsRecorder()),
			research.WithTracing(observability.NewSpanManager()))
	}

	d, err := research.NewDriver(oracle, reg, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &runtime{driver: d, store: store}
	if _, err := d.Recover(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func openStore(s research.Settings) (checkpoint.Store, error) {
	switch s.CheckpointDriver {
	case "sqlite":
		store, err := checkpoint.NewSQLiteStore(s.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		return store, nil
	default:
		return checkpoint.NewMemoryStore(), nil
	}
}
