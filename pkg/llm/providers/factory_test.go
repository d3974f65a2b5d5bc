package providers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/mocks"
	"taskpilot/pkg/config"
	"taskpilot/pkg/limiter"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
	"taskpilot/pkg/llm/providers/anthropic"
	"taskpilot/pkg/llm/providers/ollama"
)

type countingRecorder struct{ calls atomic.Int32 }

func (c *countingRecorder) ObserveLLMRequest(string, string, int, int, float64, bool, string, time.Duration) {
	c.calls.Add(1)
}

func TestNewRawClientSelectsProvider(t *testing.T) {
	defer config.SetDecryptedSecrets(nil)
	config.SetSecret(config.EnvAnthropicAPIKey, "sk-test")

	client, err := NewRawClient(&config.ModelConfig{Name: "claude-sonnet-4-5"}, config.ProviderAnthropic)
	require.NoError(t, err)
	assert.IsType(t, &anthropic.ClaudeClient{}, client)

	client, err = NewRawClient(&config.ModelConfig{Name: "llama3.1"}, config.ProviderOllama)
	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, client)

	_, err = NewRawClient(&config.ModelConfig{Name: "x"}, "acme")
	assert.Error(t, err)
}

func TestNewRawClientMissingKey(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "")
	_, err := NewRawClient(&config.ModelConfig{Name: "gpt-4o"}, config.ProviderOpenAI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai")
}

func TestWrapRecordsAndRetries(t *testing.T) {
	rec := &countingRecorder{}
	mock := mocks.NewMockLLMClient()
	var attempts atomic.Int32
	mock.CompleteFunc = func(_ context.Context, _ llm.Request) (llm.Response, error) {
		if attempts.Add(1) == 1 {
			return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")
		}
		return llm.Response{Content: "fine"}, nil
	}

	cfg := config.Default()
	cfg.Model.MaxAttempts = 2
	client := NewFactory(rec).Wrap(mock, cfg)

	resp, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hello")))
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Content)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(1), rec.calls.Load())
	assert.Positive(t, resp.Usage.PromptTokens)
	assert.Equal(t, "mock-model", client.GetModelName())
}

func TestWrapAppliesSpendingCap(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.SetModelName(config.ModelClaudeSonnetLatest)
	mock.CompleteFunc = func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Content: "ok", Usage: llm.Usage{PromptTokens: 1_000_000}}, nil
	}

	cfg := config.Default()
	cfg.Model.MaxCostUSD = 1
	client := NewFactory(nil).Wrap(mock, cfg)

	_, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hello")))
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.NewRequest("step", llm.NewUserMessage("hello")))
	assert.ErrorIs(t, err, limiter.ErrBudgetExceeded)
	assert.Equal(t, 1, mock.GetCompleteCallCount())
}
