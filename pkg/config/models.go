package config

import (
	"fmt"
	"strings"
)

// Model name constants.
const (
	ModelClaudeSonnetLatest = "claude-sonnet-4-5"
	ModelClaudeOpus         = "claude-opus-4-1"
	ModelGPT5               = "gpt-5"
	ModelGPT4o              = "gpt-4o"
	ModelGeminiPro          = "gemini-2.5-pro"
	ModelGeminiFlash        = "gemini-2.5-flash"
)

// ModelInfo contains static information about a known model. Not user-configurable.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels holds pricing and limits for common models. Unknown models are inferred via
// ProviderPatterns and carry no cost.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	ModelClaudeSonnetLatest: {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	ModelClaudeOpus: {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	ModelGPT5: {
		Provider:         ProviderOpenAI,
		InputCPM:         1.25,
		OutputCPM:        10.0,
		MaxContextTokens: 400000,
		MaxOutputTokens:  128000,
	},
	ModelGPT4o: {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	ModelGeminiPro: {
		Provider:         ProviderGoogle,
		InputCPM:         1.25,
		OutputCPM:        10.0,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  65536,
	},
	ModelGeminiFlash: {
		Provider:         ProviderGoogle,
		InputCPM:         0.3,
		OutputCPM:        2.5,
		MaxContextTokens: 1000000,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern maps a model name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infers providers for models missing from KnownModels.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"phi", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the API provider for a model name.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model %q: no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns registry info, or conservative defaults with an inferred provider.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost returns the USD cost of a call. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, exists := KnownModels[modelName]
	if !exists {
		return 0
	}
	return float64(promptTokens)/1_000_000.0*info.InputCPM + float64(completionTokens)/1_000_000.0*info.OutputCPM
}

// APIKeyEnv returns the environment variable that holds credentials for provider.
func APIKeyEnv(provider string) (string, error) {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey, nil
	case ProviderOpenAI:
		return EnvOpenAIAPIKey, nil
	case ProviderGoogle:
		return EnvGoogleAPIKey, nil
	case ProviderOllama:
		return EnvOllamaHost, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
}

// ResolveCredential returns the API key (or, for Ollama, the host URL) for the model config.
// Precedence: decrypted secrets, then environment.
func ResolveCredential(m *ModelConfig, provider string) (string, error) {
	if provider == ProviderOllama {
		if m.Host != "" {
			return m.Host, nil
		}
		if host, err := GetSecret(EnvOllamaHost); err == nil {
			return host, nil
		}
		return DefaultOllamaHost, nil
	}

	envVar := m.APIKeyEnv
	if envVar == "" {
		var err error
		if envVar, err = APIKeyEnv(provider); err != nil {
			return "", err
		}
	}
	key, err := GetSecret(envVar)
	if err != nil {
		return "", fmt.Errorf("API key not found: %w", err)
	}
	return key, nil
}
