// Package model provides LLM provider adapters behind a common chat
// interface.
package model

import "context"

// ChatModel is the provider-neutral chat interface.
//
// Implementations (openai, anthropic, google) handle authentication,
// translate Message/ToolSpec to the provider wire format, and parse the
// provider response back into ChatOut. They respect context cancellation
// and return raw provider errors; classification into retryable and
// permanent failures happens in the agent layer.
//
// Example:
//
//	m := openai.New(apiKey, "gpt-4o", "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a curriculum designer."},
//	    {Role: model.RoleUser, Content: prompt},
//	}, nil)
type ChatModel interface {
	// Chat sends the conversation and returns the completed response.
	// tools may be nil; when provided, the response may contain ToolCalls
	// instead of (or in addition to) text.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// StreamingChatModel is implemented by providers that can deliver the
// response incrementally. onDelta is invoked once per text fragment, in
// order, from the calling goroutine; the accumulated response is returned
// when the stream ends.
//
// Used by tutorial generation to feed content_chunk events to SSE
// subscribers while the full document is still being produced.
type StreamingChatModel interface {
	ChatModel

	ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, onDelta func(text string)) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text. May be empty for turns that only
	// carry tool results.
	Content string
}

// Conversation roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the LLM may call. Schema follows JSON Schema
// and describes the tool's input object.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the completed response from a chat call.
//
// A response carries text, tool calls, or both. Callers that expect a
// document should treat an empty Text with no ToolCalls as a parse
// failure.
type ChatOut struct {
	// Text is the generated response text.
	Text string

	// ToolCalls are tools the LLM wants invoked before it can finish.
	ToolCalls []ToolCall

	// Usage reports token consumption when the provider supplies it.
	Usage Usage
}

// ToolCall is a request from the LLM to invoke one tool.
type ToolCall struct {
	// ID is the provider-assigned call id, where the provider uses one.
	ID string

	// Name matches a ToolSpec.Name from the request.
	Name string

	// Input holds the call arguments, shaped by the tool's schema.
	Input map[string]interface{}
}

// Usage is per-call token accounting, recorded in execution logs.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
