package provider

import (
	"context"
	"encoding/json"
)

// Role of a chat message sent to the model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a chat request. Assistant messages may carry tool
// calls; tool messages answer one call by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model request to invoke a named tool. Arguments is the raw
// string the model produced and is not guaranteed to be valid JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type ChatRequest struct {
	Messages []Message
	// Tools is empty when the model must answer in plain text.
	Tools []ToolSpec
}

type ChatResponse struct {
	Content     string
	ToolCalls   []ToolCall
	Model       string
	TotalTokens int
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
