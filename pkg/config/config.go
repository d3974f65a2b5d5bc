// Package config provides configuration loading, validation, and access for taskpilot.
//
// Configuration lives in <workspace>/.taskpilot/config.yaml (or config.toml). A missing file
// means defaults. The loaded config is held in a process-wide singleton; GetConfig returns it
// BY VALUE so callers cannot mutate shared state.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"taskpilot/pkg/logx"
)

// Workspace layout constants.
const (
	StateDirName      = ".taskpilot"
	ConfigYAMLName    = "config.yaml"
	ConfigYMLName     = "config.yml"
	ConfigTOMLName    = "config.toml"
	DefaultHistoryDB  = ".taskpilot/history.db"
	DefaultEventsDir  = ".taskpilot/events"
	DefaultLogsDir    = ".taskpilot/logs"
	DefaultOllamaHost = "http://localhost:11434"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Duration is a time.Duration that reads "60s"-style strings from YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ModelConfig selects and tunes the language model.
type ModelConfig struct {
	Provider    string   `yaml:"provider" toml:"provider"` // empty = inferred from Name
	Name        string   `yaml:"name" toml:"name"`
	Host        string   `yaml:"host" toml:"host"`               // ollama only
	APIKeyEnv   string   `yaml:"api_key_env" toml:"api_key_env"` // overrides the provider default
	MaxTokens   int      `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float32  `yaml:"temperature" toml:"temperature"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
	MaxTPM      int      `yaml:"max_tpm" toml:"max_tpm"`           // tokens per minute, 0 = unlimited
	MaxCostUSD  float64  `yaml:"max_cost_usd" toml:"max_cost_usd"` // per run, 0 = unlimited
}

// ContextConfig controls which workspace files are offered to the model.
type ContextConfig struct {
	MaxSize             int      `yaml:"max_size" toml:"max_size"`
	Include             []string `yaml:"include" toml:"include"`
	Exclude             []string `yaml:"exclude" toml:"exclude"`
	IncludeFileContents bool     `yaml:"include_file_contents" toml:"include_file_contents"`
	MaxContextTokens    int      `yaml:"max_context_tokens" toml:"max_context_tokens"`
	Watch               bool     `yaml:"watch" toml:"watch"`
}

// ExecutionConfig controls step execution and command sessions.
type ExecutionConfig struct {
	StepTimeout         Duration `yaml:"step_timeout" toml:"step_timeout"`
	CommandMaxAttempts  int      `yaml:"command_max_attempts" toml:"command_max_attempts"`
	CommandRetryDelay   Duration `yaml:"command_retry_delay" toml:"command_retry_delay"`
	SettleDelay         Duration `yaml:"settle_delay" toml:"settle_delay"`
	Shell               string   `yaml:"shell" toml:"shell"`
	LongRunningPatterns []string `yaml:"long_running_patterns" toml:"long_running_patterns"`
	CaptureDir          string   `yaml:"capture_dir" toml:"capture_dir"`
}

// LoggingConfig mirrors the logx debug switches.
type LoggingConfig struct {
	Debug   bool     `yaml:"debug" toml:"debug"`
	Domains []string `yaml:"domains" toml:"domains"`
	File    bool     `yaml:"file" toml:"file"`
	Tee     bool     `yaml:"tee" toml:"tee"`
}

// PersistenceConfig controls the run history database.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	DBPath  string `yaml:"db_path" toml:"db_path"`
}

// MetricsConfig controls the Prometheus text snapshot written at the end of a run.
type MetricsConfig struct {
	Output string `yaml:"output" toml:"output"`
}

// EventsConfig controls the JSONL progress log.
type EventsConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// Config is the complete taskpilot configuration.
type Config struct {
	Model       ModelConfig       `yaml:"model" toml:"model"`
	Context     ContextConfig     `yaml:"context" toml:"context"`
	Execution   ExecutionConfig   `yaml:"execution" toml:"execution"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Persistence PersistenceConfig `yaml:"persistence" toml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:        ModelClaudeSonnetLatest,
			MaxTokens:   8192,
			Temperature: 0.2,
			Timeout:     Duration{3 * time.Minute},
			MaxAttempts: 3,
		},
		Context: ContextConfig{
			MaxSize: 200,
			Include: []string{"**/*"},
			Exclude: []string{
				".git/**",
				StateDirName + "/**",
				"**/node_modules/**",
				"**/vendor/**",
				"**/dist/**",
				"**/build/**",
				"**/.venv/**",
				"**/__pycache__/**",
			},
			IncludeFileContents: true,
			MaxContextTokens:    24000,
		},
		Execution: ExecutionConfig{
			StepTimeout:        Duration{60 * time.Second},
			CommandMaxAttempts: 4,
			CommandRetryDelay:  Duration{2 * time.Second},
			SettleDelay:        Duration{300 * time.Millisecond},
			Shell:              "/bin/sh",
		},
		Persistence: PersistenceConfig{
			Enabled: true,
			DBPath:  DefaultHistoryDB,
		},
		Events: EventsConfig{
			Dir: DefaultEventsDir,
		},
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Model.Name == "" {
		cfg.Model.Name = def.Model.Name
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = def.Model.MaxTokens
	}
	if cfg.Model.Timeout.Duration == 0 {
		cfg.Model.Timeout = def.Model.Timeout
	}
	if cfg.Model.MaxAttempts == 0 {
		cfg.Model.MaxAttempts = def.Model.MaxAttempts
	}
	if cfg.Context.MaxSize == 0 {
		cfg.Context.MaxSize = def.Context.MaxSize
	}
	if cfg.Context.Include == nil {
		cfg.Context.Include = def.Context.Include
	}
	if cfg.Context.Exclude == nil {
		cfg.Context.Exclude = def.Context.Exclude
	}
	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = def.Context.MaxContextTokens
	}
	if cfg.Execution.StepTimeout.Duration == 0 {
		cfg.Execution.StepTimeout = def.Execution.StepTimeout
	}
	if cfg.Execution.CommandMaxAttempts == 0 {
		cfg.Execution.CommandMaxAttempts = def.Execution.CommandMaxAttempts
	}
	if cfg.Execution.CommandRetryDelay.Duration == 0 {
		cfg.Execution.CommandRetryDelay = def.Execution.CommandRetryDelay
	}
	if cfg.Execution.Shell == "" {
		cfg.Execution.Shell = def.Execution.Shell
	}
	if cfg.Persistence.DBPath == "" {
		cfg.Persistence.DBPath = def.Persistence.DBPath
	}
	if cfg.Events.Dir == "" {
		cfg.Events.Dir = def.Events.Dir
	}
}

// Validate checks the config for values the engine cannot work with.
func (c *Config) Validate() error {
	var problems []string

	provider := c.Model.Provider
	if provider == "" {
		inferred, err := GetModelProvider(c.Model.Name)
		if err != nil {
			problems = append(problems, err.Error())
		}
		provider = inferred
	}
	switch provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama, "":
	default:
		problems = append(problems, fmt.Sprintf("model.provider: unknown provider %q", provider))
	}
	if c.Model.MaxTokens <= 0 {
		problems = append(problems, "model.max_tokens must be positive")
	}
	if c.Model.MaxTPM < 0 || c.Model.MaxCostUSD < 0 {
		problems = append(problems, "model.max_tpm and model.max_cost_usd must not be negative")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		problems = append(problems, "model.temperature must be between 0.0 and 2.0")
	}
	if c.Context.MaxSize <= 0 {
		problems = append(problems, "context.max_size must be positive")
	}
	if c.Context.MaxContextTokens <= 0 {
		problems = append(problems, "context.max_context_tokens must be positive")
	}
	if c.Execution.StepTimeout.Duration <= 0 {
		problems = append(problems, "execution.step_timeout must be positive")
	}
	if c.Execution.CommandMaxAttempts <= 0 {
		problems = append(problems, "execution.command_max_attempts must be positive")
	}
	if c.Execution.CommandRetryDelay.Duration < 0 || c.Execution.SettleDelay.Duration < 0 {
		problems = append(problems, "execution delays cannot be negative")
	}
	for _, pattern := range c.Execution.LongRunningPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			problems = append(problems, fmt.Sprintf("execution.long_running_patterns: %q: %v", pattern, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ResolvedProvider returns the configured provider or the one inferred from the model name.
func (c *Config) ResolvedProvider() (string, error) {
	if c.Model.Provider != "" {
		return c.Model.Provider, nil
	}
	return GetModelProvider(c.Model.Name)
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	current *Config
	mu      sync.RWMutex
	logger  = logx.NewLogger("config")
)

// LoadConfig loads <workspace>/.taskpilot/config.{yaml,yml,toml} (or explicitPath) into the
// global singleton.
func LoadConfig(workspace, explicitPath string) error {
	cfg, err := Load(workspace, explicitPath)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	current = cfg
	return nil
}

// GetConfig returns the current global config BY VALUE.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *current, nil
}

// SetConfigForTesting replaces the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}
