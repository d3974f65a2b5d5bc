package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStateFile(t *testing.T, workspace, name, content string) string {
	t.Helper()
	dir := filepath.Join(workspace, StateDirName)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)

	assert.Equal(t, ModelClaudeSonnetLatest, cfg.Model.Name)
	assert.Equal(t, 200, cfg.Context.MaxSize)
	assert.Equal(t, 60*time.Second, cfg.Execution.StepTimeout.Duration)
	assert.Equal(t, 4, cfg.Execution.CommandMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Execution.CommandRetryDelay.Duration)
	assert.Contains(t, cfg.Context.Exclude, ".git/**")
}

func TestLoadYAML(t *testing.T) {
	ws := t.TempDir()
	writeStateFile(t, ws, ConfigYAMLName, `
model:
  name: gpt-4o
  temperature: 0.5
context:
  max_size: 50
  include: ["src/**/*.go"]
execution:
  step_timeout: 90s
  command_max_attempts: 2
`)

	cfg, err := Load(ws, "")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.InDelta(t, 0.5, cfg.Model.Temperature, 0.001)
	assert.Equal(t, 50, cfg.Context.MaxSize)
	assert.Equal(t, []string{"src/**/*.go"}, cfg.Context.Include)
	assert.Equal(t, 90*time.Second, cfg.Execution.StepTimeout.Duration)
	assert.Equal(t, 2, cfg.Execution.CommandMaxAttempts)
	// unset fields keep defaults
	assert.Equal(t, 2*time.Second, cfg.Execution.CommandRetryDelay.Duration)

	provider, err := cfg.ResolvedProvider()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, provider)
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	ws := t.TempDir()
	writeStateFile(t, ws, ConfigYAMLName, "model:\n  nmae: gpt-4o\n")

	_, err := Load(ws, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoadTOML(t *testing.T) {
	ws := t.TempDir()
	path := writeStateFile(t, ws, ConfigTOMLName, `
[model]
name = "llama3.1"
host = "http://gpu-box:11434"

[execution]
step_timeout = "2m"
long_running_patterns = ["^make serve"]
`)

	cfg, err := Load(ws, path)
	require.NoError(t, err)

	assert.Equal(t, "llama3.1", cfg.Model.Name)
	assert.Equal(t, 2*time.Minute, cfg.Execution.StepTimeout.Duration)
	assert.Equal(t, []string{"^make serve"}, cfg.Execution.LongRunningPatterns)

	provider, err := cfg.ResolvedProvider()
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, provider)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown model", func(c *Config) { c.Model.Name = "mystery-model" }, "unknown model"},
		{"bad provider", func(c *Config) { c.Model.Provider = "acme" }, "unknown provider"},
		{"temperature", func(c *Config) { c.Model.Temperature = 3 }, "temperature"},
		{"max size", func(c *Config) { c.Context.MaxSize = 0 }, "max_size"},
		{"timeout", func(c *Config) { c.Execution.StepTimeout.Duration = 0 }, "step_timeout"},
		{"negative budget", func(c *Config) { c.Model.MaxCostUSD = -1 }, "max_cost_usd"},
		{"pattern", func(c *Config) { c.Execution.LongRunningPatterns = []string{"("} }, "long_running_patterns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetConfigReturnsCopy(t *testing.T) {
	defer SetConfigForTesting(nil)

	_, err := GetConfig()
	require.Error(t, err)

	SetConfigForTesting(Default())
	cfg, err := GetConfig()
	require.NoError(t, err)
	cfg.Context.MaxSize = 1

	again, err := GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 200, again.Context.MaxSize)
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := Default()
	cfg.Model.Name = ModelGeminiFlash
	cfg.Execution.SettleDelay = Duration{500 * time.Millisecond}
	require.NoError(t, Save(ws, cfg))

	loaded, err := Load(ws, "")
	require.NoError(t, err)
	assert.Equal(t, ModelGeminiFlash, loaded.Model.Name)
	assert.Equal(t, 500*time.Millisecond, loaded.Execution.SettleDelay.Duration)
}

func TestModelRegistry(t *testing.T) {
	provider, err := GetModelProvider("claude-3-haiku")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)

	_, known := GetModelInfo("qwen2.5-coder")
	assert.False(t, known)

	assert.InDelta(t, 18.0, CalculateCost(ModelClaudeSonnetLatest, 1_000_000, 1_000_000), 0.0001)
	assert.Zero(t, CalculateCost("unknown", 1000, 1000))
}
