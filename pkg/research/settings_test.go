package research

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/config"
)

func TestSettingsFromConfig_Defaults(t *testing.T) {
	s, err := SettingsFromConfig(config.New(nil))
	require.NoError(t, err)

	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, 4096, s.MaxTokens)
	assert.Equal(t, DefaultToolTimeout, s.ToolTimeout)
	assert.Equal(t, 1000, s.MaxIterations)
	assert.Equal(t, []string{ReviewActionName}, s.Approvals)
	assert.Equal(t, "memory", s.CheckpointDriver)
	assert.Equal(t, ":8080", s.ServerAddr)
	assert.Empty(t, s.APIKey)
}

func TestSettingsFromConfig_Values(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  anthropic_key: sk-ant
  max_tokens: 1024
tools:
  timeout: 30s
oracle:
  timeout: 45
graph:
  max_iterations: 50
checkpoint:
  driver: sqlite
  path: /var/lib/reportd.db
`))
	require.NoError(t, err)

	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", s.Provider)
	assert.Equal(t, "sk-ant", s.APIKey)
	assert.Equal(t, 1024, s.MaxTokens)
	assert.Equal(t, 30*time.Second, s.ToolTimeout)
	assert.Equal(t, 45*time.Second, s.OracleTimeout)
	assert.Equal(t, 50, s.MaxIterations)
	assert.Equal(t, "/var/lib/reportd.db", s.CheckpointPath)
	assert.Len(t, s.LLMOptions(), 4)
}

func TestSettingsFromConfig_Env(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("REPORTD_MAX_ITERATIONS", "77")

	s, err := SettingsFromConfig(config.New(nil).WithEnv(EnvBindings))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", s.APIKey)
	assert.Equal(t, 77, s.MaxIterations)
}

func TestSettingsFromConfig_Invalid(t *testing.T) {
	var ve *ValidationError

	_, err := SettingsFromConfig(config.New(map[string]any{"llm": map[string]any{"provider": "gemini"}}))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "llm.provider", ve.Field)

	_, err = SettingsFromConfig(config.New(map[string]any{"checkpoint": map[string]any{"driver": "redis"}}))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "checkpoint.driver", ve.Field)

	_, err = SettingsFromConfig(config.New(map[string]any{"graph": map[string]any{"max_iterations": 0}}))
	assert.ErrorAs(t, err, &ve)
}
