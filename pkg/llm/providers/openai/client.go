// Package openai implements llm.Client on the OpenAI Responses API.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"taskpilot/pkg/config"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
)

// Client wraps the official OpenAI SDK.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw client; middleware is applied by the provider factory.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = config.ModelGPT5
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// supportsTemperature reports whether the model accepts a sampling temperature. Reasoning
// models reject it.
func supportsTemperature(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return false
		}
	}
	return true
}

// buildInput flattens the non-system conversation into a single input string. System messages
// become the Responses API instructions.
func buildInput(messages []llm.Message) (instructions, input string) {
	system, rest := llm.SplitSystem(messages)
	var b strings.Builder
	for i := range rest {
		if rest[i].Role == llm.RoleAssistant {
			b.WriteString("Assistant: ")
			b.WriteString(rest[i].Content)
			b.WriteString("\n\n")
			continue
		}
		b.WriteString(rest[i].Content)
		if i < len(rest)-1 {
			b.WriteString("\n\n")
		}
	}
	return system, b.String()
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	instructions, input := buildInput(in.Messages)
	if strings.TrimSpace(input) == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "request has no user content")
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if info, ok := config.KnownModels[c.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if supportsTemperature(c.model) {
		params.Temperature = openai.Float(float64(in.Temperature))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return llm.Response{}, llmerrors.Classify(err, apiErr.StatusCode)
		}
		return llm.Response{}, llmerrors.Classify(err, 0)
	}
	if resp == nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "OpenAI response contained no output text")
	}

	stop := "end_turn"
	if resp.IncompleteDetails.Reason == "max_output_tokens" {
		stop = "max_tokens"
	}

	return llm.Response{
		Content:    content,
		StopReason: stop,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the model name.
func (c *Client) GetModelName() string {
	return c.model
}

var _ llm.Client = (*Client)(nil)
