package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FindConfigFile returns the first config file present in the workspace state dir, or "" if none.
func FindConfigFile(workspace string) string {
	for _, name := range []string{ConfigYAMLName, ConfigYMLName, ConfigTOMLName} {
		candidate := filepath.Join(workspace, StateDirName, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads the config for workspace. explicitPath, when set, must exist. Without it the
// workspace state dir is searched; a missing file yields defaults.
func Load(workspace, explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		path = FindConfigFile(workspace)
	}
	if path == "" {
		logger.Debug("No config file in %s, using defaults", filepath.Join(workspace, StateDirName))
		cfg := Default()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, formatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("Loaded config from %s (model %s)", path, cfg.Model.Name)
	return cfg, nil
}

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes data, fills defaults, and validates. Unknown YAML keys are errors; unknown
// TOML keys are logged.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config

	switch format {
	case FormatTOML:
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
		for _, key := range meta.Undecoded() {
			logger.Warn("Ignoring unknown config key %q", key.String())
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg as YAML into the workspace state dir.
func Save(workspace string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	dir := filepath.Join(workspace, StateDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigYAMLName), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
