// Package ollama implements llm.Client on a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"taskpilot/pkg/config"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
)

// Client wraps the Ollama API client.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewClient creates a client for hostURL. An unparsable host falls back to the local default.
func NewClient(hostURL, model string, httpClient *http.Client) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Host == "" {
		hostURL = config.DefaultOllamaHost
		parsedURL, _ = url.Parse(hostURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		model:   strings.TrimPrefix(model, "ollama:"),
		hostURL: hostURL,
	}
}

// Complete implements llm.Client.
func (o *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	if len(in.Messages) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	options := map[string]any{"temperature": in.Temperature}
	if in.MaxTokens > 0 {
		options["num_predict"] = in.MaxTokens
	}
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if response.Message.Content == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "Ollama returned an empty message")
	}

	return llm.Response{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

// GetModelName returns the model name.
func (o *Client) GetModelName() string {
	return o.model
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	if statusErr, ok := err.(api.StatusError); ok { //nolint:errorlint // SDK returns the value type
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, statusErr.StatusCode,
				"Ollama model not found (run `ollama pull`)", err)
		}
		return llmerrors.Classify(err, statusErr.StatusCode)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	}
	return llmerrors.Classify(fmt.Errorf("ollama: %w", err), 0)
}

var _ llm.Client = (*Client)(nil)

// ListModels returns the names of the models installed on the server.
func (o *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot reach Ollama at %s: %w", o.hostURL, err)
	}
	names := make([]string, 0, len(resp.Models))
	for i := range resp.Models {
		names = append(names, resp.Models[i].Name)
	}
	return names, nil
}

// Host returns the server URL.
func (o *Client) Host() string {
	return o.hostURL
}
