package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/mocks"
	"taskpilot/pkg/llm"
)

func TestMiddlewareAppliesDeadline(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	mock.CompleteFunc = func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}

	client := llm.Chain(mock, Middleware(20*time.Millisecond))
	start := time.Now()
	_, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hi")))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMiddlewareDisabled(t *testing.T) {
	mock := mocks.NewMockLLMClient()
	client := llm.Chain(mock, Middleware(0))
	assert.Same(t, mock, client)
}
