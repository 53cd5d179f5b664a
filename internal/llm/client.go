// Package llm is the provider boundary for model calls. Everything above
// this package speaks the neutral Client interface; the Gemini REST
// implementation lives behind it.
package llm

import (
	"context"
	"errors"
)

// ErrRateLimited marks quota exhaustion (HTTP 429 / RESOURCE_EXHAUSTED).
// Callers match it with errors.Is to distinguish quota pressure from
// ordinary failures.
var ErrRateLimited = errors.New("rate limited")

// ToolDefinition describes a callable function exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// FunctionResponse is a tool result sent back into a session.
type FunctionResponse struct {
	Name    string
	Content string
	IsError bool
}

// Part is one message part sent to a session: text or a function response.
type Part struct {
	Text             string
	FunctionResponse *FunctionResponse
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ResultPart builds a function-response part.
func ResultPart(name, content string, isError bool) Part {
	return Part{FunctionResponse: &FunctionResponse{Name: name, Content: content, IsError: isError}}
}

// Usage reports token consumption for one exchange.
type Usage struct {
	PromptTokens int
	OutputTokens int
	TotalTokens  int
}

// ToolResponse is the model's reply within a session: text, zero or more
// tool calls, and token usage.
type ToolResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// HasToolCalls reports whether the model requested any function calls.
func (r *ToolResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Client is the LLM provider boundary.
type Client interface {
	// Generate sends a single prompt and returns the completion text.
	Generate(ctx context.Context, model, system, user string) (string, error)

	// GenerateGrounded is Generate with provider web-search grounding
	// enabled. It additionally returns the grounding source URLs.
	GenerateGrounded(ctx context.Context, model, system, user string) (string, []string, error)

	// CountTokens returns the provider's exact token count for text.
	CountTokens(ctx context.Context, model, text string) (int, error)

	// NewSession opens a multi-turn conversation with optional function
	// declarations. The session owns the growing transcript.
	NewSession(model, system string, tools []ToolDefinition) Session
}

// Session is a multi-turn conversation with transcript state.
type Session interface {
	Send(ctx context.Context, parts []Part) (*ToolResponse, error)
}
