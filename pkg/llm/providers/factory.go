// Package providers builds model clients with their middleware chains from configuration.
package providers

import (
	"fmt"

	"taskpilot/pkg/config"
	"taskpilot/pkg/limiter"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/middleware/metrics"
	"taskpilot/pkg/llm/middleware/retry"
	"taskpilot/pkg/llm/middleware/timeout"
	"taskpilot/pkg/llm/providers/anthropic"
	"taskpilot/pkg/llm/providers/google"
	"taskpilot/pkg/llm/providers/ollama"
	"taskpilot/pkg/llm/providers/openai"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/utils"
)

// Factory creates model clients with a consistent middleware chain.
type Factory struct {
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewFactory creates a factory. recorder may be nil.
func NewFactory(recorder metrics.Recorder) *Factory {
	return &Factory{
		recorder: recorder,
		logger:   logx.NewLogger("llm"),
	}
}

// NewRawClient creates the provider client for the model config without middleware.
func NewRawClient(m *config.ModelConfig, provider string) (llm.Client, error) {
	credential, err := config.ResolveCredential(m, provider)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClient(credential, m.Name), nil
	case config.ProviderOpenAI:
		return openai.NewClient(credential, m.Name), nil
	case config.ProviderGoogle:
		return google.NewGeminiClient(credential, m.Name), nil
	case config.ProviderOllama:
		return ollama.NewClient(credential, m.Name, nil), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// Create builds the client for cfg wrapped as [limiter ->] metrics -> retry -> timeout -> provider.
func (f *Factory) Create(cfg *config.Config) (llm.Client, error) {
	provider, err := cfg.ResolvedProvider()
	if err != nil {
		return nil, err
	}
	raw, err := NewRawClient(&cfg.Model, provider)
	if err != nil {
		return nil, err
	}
	return f.Wrap(raw, cfg), nil
}

// Wrap applies the standard middleware chain to an existing client.
func (f *Factory) Wrap(raw llm.Client, cfg *config.Config) llm.Client {
	var extractor metrics.UsageExtractor
	if counter, err := utils.NewTokenCounter(raw.GetModelName()); err == nil {
		extractor = metrics.TokenCountingExtractor(counter)
	} else {
		f.logger.Warn("Token counter unavailable for %s: %v", raw.GetModelName(), err)
	}

	retryConfig := retry.DefaultConfig
	retryConfig.MaxAttempts = cfg.Model.MaxAttempts

	f.logger.Info("Model client: %s (%d attempts, %v timeout)", raw.GetModelName(), retryConfig.MaxAttempts, cfg.Model.Timeout.Duration)
	chain := []llm.Middleware{
		metrics.Middleware(f.recorder, extractor, f.logger),
		retry.Middleware(retry.NewPolicy(retryConfig, nil), f.logger),
		timeout.Middleware(cfg.Model.Timeout.Duration),
	}
	if limits := limiter.LimitsFromConfig(&cfg.Model); limits.Enabled() {
		f.logger.Info("Model limits: %d tokens/min, $%.2f per run", limits.TokensPerMinute, limits.MaxCostUSD)
		chain = append([]llm.Middleware{limiter.Middleware(limiter.New(limits))}, chain...)
	}
	return llm.Chain(raw, chain...)
}
