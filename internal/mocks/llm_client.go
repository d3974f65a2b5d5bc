package mocks

import (
	"context"
	"strings"
	"sync"

	"taskpilot/pkg/llm"
)

// MockLLMClient is a scriptable llm.Client for tests.
//
// Usage:
//
//	mock := mocks.NewMockLLMClient()
//	mock.RespondWith("Step 1: create the file")
//	// or
//	mock.RespondByPurpose(map[string]string{"plan": planText, "step": stepText})
type MockLLMClient struct {
	// CompleteFunc is called by Complete. Defaults to a fixed response.
	CompleteFunc func(ctx context.Context, req llm.Request) (llm.Response, error)

	// CompleteCalls records every request, in order.
	CompleteCalls []llm.Request

	modelName string
	mu        sync.Mutex
}

// NewMockLLMClient creates a mock that answers every call with "Mock response".
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{modelName: "mock-model"}
	m.RespondWith("Mock response")
	return m
}

// Complete records the request and delegates to CompleteFunc.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName returns the configured model name.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// SetModelName sets the name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

func (m *MockLLMClient) setFunc(fn func(ctx context.Context, req llm.Request) (llm.Response, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
}

// FailCompleteWith makes every call fail with err.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.setFunc(func(_ context.Context, _ llm.Request) (llm.Response, error) {
		return llm.Response{}, err
	})
}

// RespondWith makes every call return content with a small fixed usage.
func (m *MockLLMClient) RespondWith(content string) {
	m.setFunc(func(_ context.Context, _ llm.Request) (llm.Response, error) {
		return response(content), nil
	})
}

// RespondWithSequence returns responses in order, repeating the last one once exhausted.
func (m *MockLLMClient) RespondWithSequence(contents ...string) {
	var idx int
	var seqMu sync.Mutex
	m.setFunc(func(_ context.Context, _ llm.Request) (llm.Response, error) {
		seqMu.Lock()
		defer seqMu.Unlock()
		if len(contents) == 0 {
			return response(""), nil
		}
		content := contents[min(idx, len(contents)-1)]
		idx++
		return response(content), nil
	})
}

// RespondByPurpose answers by Request.Purpose. Per purpose, a slice of answers is consumed in
// order and the last one repeats. Unknown purposes get an empty response.
func (m *MockLLMClient) RespondByPurpose(answers map[string][]string) {
	var purposeMu sync.Mutex
	next := make(map[string]int, len(answers))
	m.setFunc(func(_ context.Context, req llm.Request) (llm.Response, error) {
		purposeMu.Lock()
		defer purposeMu.Unlock()
		list := answers[req.Purpose]
		if len(list) == 0 {
			return response(""), nil
		}
		i := next[req.Purpose]
		next[req.Purpose]++
		return response(list[min(i, len(list)-1)]), nil
	})
}

func response(content string) llm.Response {
	return llm.Response{
		Content:    content,
		StopReason: "end_turn",
		Usage: llm.Usage{
			PromptTokens:     10,
			CompletionTokens: len(strings.Fields(content)),
		},
	}
}

// Reset clears recorded calls.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = nil
}

// GetCompleteCallCount returns the number of Complete calls.
func (m *MockLLMClient) GetCompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// CallsFor returns recorded requests with the given purpose.
func (m *MockLLMClient) CallsFor(purpose string) []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []llm.Request
	for i := range m.CompleteCalls {
		if m.CompleteCalls[i].Purpose == purpose {
			out = append(out, m.CompleteCalls[i])
		}
	}
	return out
}

// LastCompleteCall returns the most recent request, or nil.
func (m *MockLLMClient) LastCompleteCall() *llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return nil
	}
	req := m.CompleteCalls[len(m.CompleteCalls)-1]
	return &req
}

var _ llm.Client = (*MockLLMClient)(nil)
