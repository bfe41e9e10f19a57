// Package llm is the boundary between the notes chat and the model SDKs.
// OpenRouter and OpenAI are reached through the openai subpackage, other
// vendors through anyllm, and tests use mock.
//
// Providers do not retry. Retries, timeouts, and error classification are owned
// by the gateway package; providers surface upstream HTTP failures as
// [*StatusError] so the gateway can inspect the status code and body.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"

	"github.com/MrWong99/notesmcp/pkg/types"
)

// ErrNoChoices is returned when the backend answers successfully but without
// any completion choice.
var ErrNoChoices = errors.New("llm: empty choices in response")

// Usage is the token accounting reported by the backend for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one chat completion call. Messages must not be empty.
type CompletionRequest struct {
	Messages []types.Message

	// Tools are offered to the model; it may answer with calls to them.
	Tools []types.ToolDefinition

	// Model overrides the provider's configured model when set.
	Model string

	// Temperature and MaxTokens are left to the backend when zero.
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the model's answer. Content may be empty when the
// model only requested tool calls.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is a chat completion backend.
type Provider interface {
	// Complete performs one completion. Upstream HTTP failures are returned
	// as, or wrap, a [*StatusError].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the prompt size of messages. It may overcount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities describes the configured model.
	Capabilities() types.ModelCapabilities
}
