// Package llm is the seam between the generator and the chat-completion
// backends. Adapters live in the subpackages: openai (native SDK, strict
// structured output) and anyllm (every other backend, loose JSON only).
package llm

import (
	"context"
	"errors"
)

// ErrSchemaUnsupported is wrapped by Complete when the backend refuses the
// request's response schema. The same request may be retried without one.
var ErrSchemaUnsupported = errors.New("llm: structured output schema rejected")

// Message is one entry of the conversation sent to the model. Role is
// "system", "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// ResponseSchema asks the backend to answer with JSON matching Schema.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	// SystemPrompt, if set, is sent ahead of Messages.
	SystemPrompt string
	Messages     []Message

	// Zero means the backend default for both.
	Temperature float64
	MaxTokens   int

	// Schema is ignored by backends without structured output support.
	Schema *ResponseSchema
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse holds the raw assistant text. Decoding it is the
// caller's job.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities is static metadata about the configured model.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int

	// SupportsStructuredOutput reports whether CompletionRequest.Schema is
	// honoured.
	SupportsStructuredOutput bool
}

// Provider is a chat completion backend. Implementations are safe for
// concurrent use and return promptly once ctx is done.
type Provider interface {
	// Complete waits for the full response to req.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}
