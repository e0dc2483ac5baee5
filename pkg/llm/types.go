package llm

import (
	"context"
	"iter"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one provider-neutral conversation entry
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls are set on assistant messages that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and IsError are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition defines a tool that can be called by the LLM
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema properties
	Required    []string       `json:"required,omitempty"`
}

// ToolCall represents a tool call made by the LLM
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatRequest is a single model turn
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
	// User is an opaque end-user identifier forwarded for abuse tracking.
	User string
}

// ChatResponse is the model's answer to a ChatRequest
type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// StreamEvent is emitted while a turn streams. Text events carry a
// fragment; the last event carries the assembled Response.
type StreamEvent struct {
	Text     string
	Response *ChatResponse
}

// Provider is a chat-completion backend
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream yields text fragments as they arrive. The underlying
	// stream is released when iteration stops, early or not.
	ChatStream(ctx context.Context, req ChatRequest) iter.Seq2[StreamEvent, error]
}

// ModelConfig selects and configures a Provider
type ModelConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}
