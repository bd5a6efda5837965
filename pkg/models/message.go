// Package models defines the wire-stable data types shared across the
// orchestration core: turn messages, tool calls and results, the structured
// response contract, conversation summaries, and stream events.
package models

import "encoding/json"

// Role identifies the author of a turn message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "ai"
	RoleTool      Role = "tool"
)

// Message is a single entry in the current turn's transcript. Messages are
// scoped to one turn and are never persisted; inter-turn memory travels in
// ConversationSummary only.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name link a tool message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Args decodes the call input into a generic map. Malformed input yields an
// empty map rather than an error; tools validate their own arguments.
func (c ToolCall) Args() map[string]any {
	args := map[string]any{}
	if len(c.Input) > 0 {
		_ = json.Unmarshal(c.Input, &args)
	}
	return args
}

// ToolResult is the reified outcome of a tool invocation. Tool failures are
// carried as values, never raised to the loop as errors.
type ToolResult struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`

	// ClientValue, when set, is the untruncated payload retained for the
	// client in place of Value. It is never serialized and never reaches
	// the model; Value holds the redacted view in that case.
	ClientValue json.RawMessage `json:"-"`
}

// ForClient returns the payload destined for client_results: ClientValue when
// present, Value otherwise.
func (r *ToolResult) ForClient() json.RawMessage {
	if r == nil {
		return nil
	}
	if len(r.ClientValue) > 0 {
		return r.ClientValue
	}
	return r.Value
}

// ErrorResult builds a failed ToolResult with the given source recorded in
// meta. Source is "crm" for upstream failures and "tool" for local ones.
func ErrorResult(source, message string) *ToolResult {
	return &ToolResult{
		OK:    false,
		Error: message,
		Meta:  map[string]any{"source": source},
	}
}

// OKResult marshals v into a successful ToolResult. Marshal failures degrade
// to an error result so the loop always receives a well-formed value.
func OKResult(v any) *ToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("tool", "encode result: "+err.Error())
	}
	return &ToolResult{OK: true, Value: raw}
}

// LiteContent renders the result as the JSON string fed back to the model.
// Errors are surfaced as a compact envelope so the model can recover.
func (r *ToolResult) LiteContent() string {
	if r == nil {
		return `{"ok":false,"error":"missing result"}`
	}
	if !r.OK {
		env, err := json.Marshal(map[string]any{"ok": false, "error": r.Error})
		if err != nil {
			return `{"ok":false,"error":"unencodable error"}`
		}
		return string(env)
	}
	if len(r.Value) == 0 {
		return `{"ok":true}`
	}
	return string(r.Value)
}

// ClientResult is an untruncated tool result retained for the client within
// one turn. Entries are append-only and never fed back to the model.
type ClientResult struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Value      json.RawMessage `json:"value"`
}
