package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/mocks"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
)

type observation struct {
	model, purpose     string
	prompt, completion int
	success            bool
	errorType          string
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (f *fakeRecorder) ObserveLLMRequest(model, purpose string, prompt, completion int, _ float64, success bool, errorType string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, observation{model, purpose, prompt, completion, success, errorType})
}

func TestMiddlewareRecordsSuccess(t *testing.T) {
	rec := &fakeRecorder{}
	mock := mocks.NewMockLLMClient()
	mock.RespondWith("three word answer")

	client := llm.Chain(mock, Middleware(rec, nil, nil))
	resp, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hi")))
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)

	require.Len(t, rec.obs, 1)
	assert.Equal(t, observation{"mock-model", "plan", 10, 3, true, ""}, rec.obs[0])
}

func TestMiddlewareRecordsErrorClass(t *testing.T) {
	rec := &fakeRecorder{}
	mock := mocks.NewMockLLMClient()
	mock.FailCompleteWith(llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "slow down"))

	client := llm.Chain(mock, Middleware(rec, nil, nil))
	_, err := client.Complete(context.Background(), llm.NewRequest("step", llm.NewUserMessage("hi")))
	require.Error(t, err)

	require.Len(t, rec.obs, 1)
	assert.False(t, rec.obs[0].success)
	assert.Equal(t, "rate_limit", rec.obs[0].errorType)
}

func TestMiddlewareEstimatesMissingUsage(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.CompleteFunc = func(_ context.Context, _ llm.Request) (llm.Response, error) {
		return llm.Response{Content: "no usage reported"}, nil
	}
	estimate := func(_ llm.Request, _ llm.Response) llm.Usage {
		return llm.Usage{PromptTokens: 7, CompletionTokens: 3}
	}

	client := llm.Chain(mock, Middleware(nil, estimate, nil))
	resp, err := client.Complete(context.Background(), llm.NewRequest("step", llm.NewUserMessage("hi")))
	require.NoError(t, err)
	assert.Equal(t, llm.Usage{PromptTokens: 7, CompletionTokens: 3}, resp.Usage)

	mock.FailCompleteWith(errors.New("boom"))
	_, err = client.Complete(context.Background(), llm.NewRequest("step", llm.NewUserMessage("hi")))
	assert.EqualError(t, err, "boom")
}

func TestMultiRecorderFansOut(t *testing.T) {
	a, b := &fakeRecorder{}, &fakeRecorder{}
	multi := MultiRecorder(a, nil, b)
	multi.ObserveLLMRequest("m", "plan", 1, 2, 0, true, "", time.Millisecond)

	assert.Len(t, a.obs, 1)
	assert.Len(t, b.obs, 1)
	assert.Equal(t, "plan", b.obs[0].purpose)
}
