package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/mocks"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
)

func fastPolicy(attempts int) *Policy {
	return NewPolicy(Config{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, func(err error) bool {
		var llmErr *llmerrors.Error
		return errors.As(err, &llmErr) && llmErr.IsRetryable()
	})
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	calls := 0
	mock.CompleteFunc = func(_ context.Context, _ llm.Request) (llm.Response, error) {
		calls++
		if calls < 3 {
			return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "flaky")
		}
		return llm.Response{Content: "ok"}, nil
	}

	client := llm.Chain(mock, Middleware(fastPolicy(3), nil))
	resp, err := client.Complete(context.Background(), llm.NewRequest("step", llm.NewUserMessage("hi")))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key"))

	client := llm.Chain(mock, Middleware(fastPolicy(5), nil))
	_, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hi")))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
	assert.Equal(t, 1, mock.GetCompleteCallCount())
}

func TestRetryExhaustionReportsServiceUnavailable(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeTransient, "down"))

	client := llm.Chain(mock, Middleware(fastPolicy(2), nil))
	_, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hi")))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
	assert.Equal(t, 2, mock.GetCompleteCallCount())
}

func TestCalculateDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffFactor: 2}, nil)

	assert.Zero(t, p.CalculateDelay(1, nil))
	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(2, nil))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(3, nil))
	assert.Equal(t, 250*time.Millisecond, p.CalculateDelay(4, nil))

	rateLimited := llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down")
	assert.Equal(t, time.Second, p.CalculateDelay(2, rateLimited))
}

func TestDefaultClassifier(t *testing.T) {
	assert.False(t, ShouldRetry(nil))
	assert.False(t, ShouldRetry(context.Canceled))
	assert.True(t, ShouldRetry(llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "")))
	assert.False(t, ShouldRetry(llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "")))
}
