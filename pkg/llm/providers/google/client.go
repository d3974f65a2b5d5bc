// Package google implements llm.Client on the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"taskpilot/pkg/llm"
	"taskpilot/pkg/llm/llmerrors"
)

// GeminiClient wraps the genai client. The SDK client is created lazily on first use because
// its constructor needs a context.
type GeminiClient struct {
	client     *genai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	initOnce   sync.Once
	initErr    error
}

// NewGeminiClient creates a raw client; middleware is applied by the provider factory.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

// WithEndpoint points the client at a different API base URL (tests, proxies).
func (g *GeminiClient) WithEndpoint(baseURL string, httpClient *http.Client) *GeminiClient {
	g.baseURL = baseURL
	g.httpClient = httpClient
	return g
}

func (g *GeminiClient) ensureClient(ctx context.Context) error {
	g.initOnce.Do(func() {
		cfg := &genai.ClientConfig{
			APIKey:     g.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: g.httpClient,
		}
		if g.baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.baseURL}
		}
		g.client, g.initErr = genai.NewClient(ctx, cfg)
	})
	if g.initErr != nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, g.initErr, "failed to create Gemini client")
	}
	return nil
}

// convertMessages maps the conversation onto Gemini contents. Assistant turns use the "model" role.
func convertMessages(messages []llm.Message) ([]*genai.Content, string, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("must have at least one non-system message")
	}

	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		role := genai.RoleUser
		if rest[i].Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(rest[i].Content, genai.Role(role)))
	}
	return contents, system, nil
}

// Complete implements llm.Client.
func (g *GeminiClient) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	if err := g.ensureClient(ctx); err != nil {
		return llm.Response{}, err
	}

	contents, system, err := convertMessages(in.Messages)
	if err != nil {
		return llm.Response{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if in.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(in.MaxTokens) //nolint:gosec // bounded by config validation
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return llm.Response{}, llmerrors.Classify(err, apiErr.Code)
		}
		return llm.Response{}, llmerrors.Classify(err, 0)
	}
	if result == nil || result.Text() == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	resp := llm.Response{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// GetModelName returns the model name.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return "unknown"
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	case genai.FinishReasonStop, "":
		return "end_turn"
	default:
		return string(result.Candidates[0].FinishReason)
	}
}

var _ llm.Client = (*GeminiClient)(nil)
