// Package llm provides the language model client interface used by the engine.
//
// The engine only ever calls Complete: a conversation goes in, text and token usage come out.
// Provider implementations live under pkg/llm/providers and cross-cutting behavior (retry,
// metrics, timeouts) is layered on with Chain.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role is the author of a message in a conversation.
type Role string

const (
	// RoleSystem carries instructions.
	RoleSystem Role = "system"
	// RoleUser carries the request.
	RoleUser Role = "user"
	// RoleAssistant carries earlier model output.
	RoleAssistant Role = "assistant"
)

const (
	// DefaultMaxTokens is used when a request does not set MaxTokens.
	DefaultMaxTokens = 8192

	// TemperatureDeterministic is the temperature for plan and code generation.
	TemperatureDeterministic = 0.2
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32

	// Purpose labels the call for metrics and history ("plan", "step", "recovery").
	Purpose string
}

// Usage is the token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
	}
}

// Response is the result of a completion.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens", ...
}

// Client is the model collaborator.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewRequest creates a request with default limits.
func NewRequest(purpose string, messages ...Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDeterministic,
		Purpose:     purpose,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Validate rejects requests no provider can serve.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("request has no messages")
	}
	for i := range r.Messages {
		switch r.Messages[i].Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d has invalid role %q", i, r.Messages[i].Role)
		}
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	return nil
}

// SplitSystem separates system messages (joined by blank lines) from the conversation.
func SplitSystem(messages []Message) (system string, rest []Message) {
	var parts []string
	rest = make([]Message, 0, len(messages))
	for i := range messages {
		if messages[i].Role == RoleSystem {
			parts = append(parts, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(parts, "\n\n"), rest
}

// PromptText flattens a conversation for token estimation.
func PromptText(messages []Message) string {
	var b strings.Builder
	for i := range messages {
		b.WriteString(messages[i].Content)
		b.WriteString("\n")
	}
	return b.String()
}
