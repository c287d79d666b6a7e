// Package llm defines the Provider interface for chat-completion backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes one blocking completion call. It is used
// for field extraction and for the turn-based reply pipeline. Calls are
// fallible and never retried locally.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/voiceform/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before the conversation as a system message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message drives the reply.
	Messages []types.Message

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// JSONObject asks for a reply that is a single JSON object. Backends with
	// a native JSON mode enforce it; the others are instructed through the
	// system prompt.
	JSONObject bool
}

// JSONInstruction is appended to the system prompt by backends without a
// native JSON mode.
const JSONInstruction = "Reply with a single JSON object and nothing else."

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full response. It returns promptly
	// with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
