package research

import (
	"fmt"
	"time"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/config"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/llm"
)

// EnvBindings maps config keys to the environment variables that
// override them.
var EnvBindings = map[string]string{
	"llm.provider":         "REPORTD_LLM_PROVIDER",
	"llm.model":            "REPORTD_LLM_MODEL",
	"llm.base_url":         "REPORTD_LLM_BASE_URL",
	"llm.openai_api_key":   "OPENAI_API_KEY",
	"llm.anthropic_key":    "ANTHROPIC_API_KEY",
	"tools.tavily_key":     "TAVILY_API_KEY",
	"tools.tavily_url":     "REPORTD_TAVILY_URL",
	"checkpoint.driver":    "REPORTD_CHECKPOINT_DRIVER",
	"checkpoint.path":      "REPORTD_CHECKPOINT_PATH",
	"server.addr":          "REPORTD_ADDR",
	"log.level":            "REPORTD_LOG_LEVEL",
	"log.format":           "REPORTD_LOG_FORMAT",
	"auth.jwt_secret":      "REPORTD_JWT_SECRET",
	"graph.max_iterations": "REPORTD_MAX_ITERATIONS",
	"telemetry.enabled":    "REPORTD_TELEMETRY",
}

// Settings is the resolved configuration of a research deployment.
type Settings struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	BaseURL     string
	APIKey      string

	TavilyKey string
	TavilyURL string

	ToolTimeout   time.Duration
	OracleTimeout time.Duration
	MaxIterations int
	Approvals     []string

	CheckpointDriver string
	CheckpointPath   string

	ServerAddr string
	LogLevel   string
	LogFormat  string
	JWTSecret  string

	// Telemetry enables OTel metrics and spans on the global providers.
	Telemetry bool
}

// SettingsFromConfig reads Settings from cfg, applying defaults. The API
// key is picked according to the provider.
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	s := Settings{
		Provider:         cfg.String("llm.provider", llm.ProviderOpenAI),
		Model:            cfg.String("llm.model", ""),
		MaxTokens:        cfg.Int("llm.max_tokens", 4096),
		Temperature:      cfg.Float("llm.temperature", 0),
		BaseURL:          cfg.String("llm.base_url", ""),
		TavilyKey:        cfg.String("tools.tavily_key", ""),
		TavilyURL:        cfg.String("tools.tavily_url", ""),
		ToolTimeout:      cfg.Duration("tools.timeout", DefaultToolTimeout),
		OracleTimeout:    cfg.Duration("oracle.timeout", 2*time.Minute),
		MaxIterations:    cfg.Int("graph.max_iterations", flowgraph.DefaultMaxIterations),
		Approvals:        cfg.StringSlice("approvals", []string{ReviewActionName}),
		CheckpointDriver: cfg.String("checkpoint.driver", "memory"),
		CheckpointPath:   cfg.String("checkpoint.path", "reportd.db"),
		ServerAddr:       cfg.String("server.addr", ":8080"),
		LogLevel:         cfg.String("log.level", "info"),
		LogFormat:        cfg.String("log.format", "text"),
		JWTSecret:        cfg.String("auth.jwt_secret", ""),
		Telemetry:        cfg.Bool("telemetry.enabled", false),
	}

	switch s.Provider {
	case llm.ProviderOpenAI:
		s.APIKey = cfg.String("llm.openai_api_key", cfg.String("llm.api_key", ""))
	case llm.ProviderAnthropic:
		s.APIKey = cfg.String("llm.anthropic_key", cfg.String("llm.api_key", ""))
	default:
		return s, &ValidationError{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", s.Provider)}
	}

	switch s.CheckpointDriver {
	case "memory", "sqlite":
	default:
		return s, &ValidationError{Field: "checkpoint.driver", Reason: fmt.Sprintf("want memory or sqlite, got %q", s.CheckpointDriver)}
	}
	if s.MaxIterations <= 0 || s.MaxIterations > flowgraph.MaxIterationsLimit {
		return s, &ValidationError{Field: "graph.max_iterations", Reason: fmt.Sprintf("out of range: %d", s.MaxIterations)}
	}
	return s, nil
}

// LLMOptions returns the client options described by s.
func (s Settings) LLMOptions() []llm.Option {
	opts := []llm.Option{llm.WithMaxTokens(s.MaxTokens), llm.WithTemperature(s.Temperature)}
	if s.Model != "" {
		opts = append(opts, llm.WithModel(s.Model))
	}
	if s.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(s.BaseURL))
	}
	if s.OracleTimeout > 0 {
		opts = append(opts, llm.WithTimeout(s.OracleTimeout))
	}
	return opts
}
