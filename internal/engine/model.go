// Package engine runs the agent: a bounded tool-calling loop over a
// pluggable Model, executed on a worker pool behind the chat pipeline.
package engine

import (
	"context"
	"encoding/json"

	"github.com/basket/genie/internal/tools"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one capability request emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one entry of the conversation sent to the model. Assistant
// messages may carry ToolCalls; tool messages answer one call by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// Request is a single model call.
type Request struct {
	System   string
	Messages []Message
	Tools    []tools.Spec
}

// Response carries either final text or tool calls.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Model generates the next assistant step.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (*Response, error)

func (f ModelFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
