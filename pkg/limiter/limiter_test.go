package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/mocks"
	"taskpilot/pkg/config"
	"taskpilot/pkg/llm"
)

func newTestLimiter(limits Limits, clock *time.Time) *Limiter {
	l := New(limits)
	l.now = func() time.Time { return *clock }
	l.lastRefill = *clock
	return l
}

func TestReserveAndRefill(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLimiter(Limits{TokensPerMinute: 1000}, &clock)

	require.NoError(t, l.Reserve(600))
	assert.ErrorIs(t, l.Reserve(600), ErrRateLimit)
	tokens, _ := l.Status()
	assert.Equal(t, 400, tokens)

	clock = clock.Add(30 * time.Second)
	assert.ErrorIs(t, l.Reserve(600), ErrRateLimit)

	clock = clock.Add(45 * time.Second)
	require.NoError(t, l.Reserve(600))
	tokens, _ = l.Status()
	assert.Equal(t, 400, tokens, "refill is capped at the bucket size")
}

func TestReserveClampsOversizedRequests(t *testing.T) {
	clock := time.Now()
	l := newTestLimiter(Limits{TokensPerMinute: 100}, &clock)
	require.NoError(t, l.Reserve(5000))
	tokens, _ := l.Status()
	assert.Equal(t, 0, tokens)
}

func TestDisabledLimits(t *testing.T) {
	l := New(Limits{})
	assert.False(t, Limits{}.Enabled())
	assert.NoError(t, l.Reserve(1_000_000))
	l.Spend(100)
	assert.NoError(t, l.CheckBudget())
}

func TestWaitHonorsContext(t *testing.T) {
	clock := time.Now()
	l := newTestLimiter(Limits{TokensPerMinute: 10}, &clock)
	require.NoError(t, l.Reserve(10))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, 5), context.DeadlineExceeded)
}

func TestBudget(t *testing.T) {
	l := New(Limits{MaxCostUSD: 0.5})
	require.NoError(t, l.CheckBudget())
	l.Spend(0.3)
	require.NoError(t, l.CheckBudget())
	l.Spend(0.3)
	err := l.CheckBudget()
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
	assert.Contains(t, err.Error(), "$0.6000")
}

func TestMiddlewareChargesAndStops(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.SetModelName(config.ModelClaudeSonnetLatest)
	mock.CompleteFunc = func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Content: "ok", Usage: llm.Usage{PromptTokens: 1_000_000}}, nil
	}
	l := New(Limits{MaxCostUSD: 0.01})
	client := llm.Chain(mock, Middleware(l))

	_, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hi")))
	require.NoError(t, err)
	_, spent := l.Status()
	assert.Greater(t, spent, 0.01)

	_, err = client.Complete(context.Background(), llm.NewRequest("step", llm.NewUserMessage("again")))
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 1, mock.GetCompleteCallCount())
}

func TestEstimateTokens(t *testing.T) {
	req := llm.NewRequest("plan", llm.NewUserMessage("12345678"))
	req.MaxTokens = 100
	assert.GreaterOrEqual(t, EstimateTokens(req), 102)
}
