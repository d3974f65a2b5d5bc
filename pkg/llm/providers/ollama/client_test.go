package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/config"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
)

func TestNewClientFallsBackToDefaultHost(t *testing.T) {
	c := NewClient("::not a url", "ollama:llama3.1", nil)
	assert.Equal(t, config.DefaultOllamaHost, c.hostURL)
	assert.Equal(t, "llama3.1", c.GetModelName())
}

func TestCompleteAgainstFakeServer(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama3.1","created_at":"2025-01-01T00:00:00Z",
			"message":{"role":"assistant","content":"1. write main.go"},
			"done":true,"done_reason":"stop","prompt_eval_count":30,"eval_count":6}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "llama3.1", srv.Client())
	resp, err := client.Complete(context.Background(), llm.NewRequest("plan",
		llm.NewSystemMessage("sys"), llm.NewUserMessage("plan it")))
	require.NoError(t, err)

	assert.Equal(t, "1. write main.go", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 6}, resp.Usage)
	assert.Equal(t, "llama3.1", captured["model"])
	assert.Equal(t, false, captured["stream"])
}

func TestCompleteModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"model \"nope\" not found"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "nope", srv.Client())
	_, err := client.Complete(context.Background(), llm.NewRequest("plan", llm.NewUserMessage("hi")))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt), err.Error())
}

func TestStopReason(t *testing.T) {
	assert.Equal(t, "max_tokens", stopReason(&api.ChatResponse{Done: true, DoneReason: "length"}))
	assert.Equal(t, "incomplete", stopReason(&api.ChatResponse{}))
}
