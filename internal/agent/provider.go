package agent

import (
	"context"
	"encoding/json"

	"github.com/relaypoint/crmagent/pkg/models"
)

// LLMProvider is the contract LLM backends implement.
//
// Implementations must be safe for concurrent use; multiple turns may call
// Complete simultaneously.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. The channel
	// is closed after the final chunk or an error chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools reports whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for one LLM call.
type CompletionRequest struct {
	// Model is the provider model id. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, carried separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the turn transcript in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools the model may call. Empty disables tool calling.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature, when non-nil, overrides the provider default.
	Temperature *float32 `json:"temperature,omitempty"`
}

// ToolSpec is the provider-facing description of a registered tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionChunk is one element of a streaming response. Text streams
// incrementally; tool calls arrive whole. Token counts are populated on the
// final chunk only.
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool is the interface CRM tools implement. Execution failures that the
// model should see are returned inside the ToolResult; the error return is
// reserved for infrastructure faults.
type Tool interface {
	// Name returns the tool name for function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with schema-conformant JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}
