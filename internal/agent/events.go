package agent

import "github.com/relaypoint/crmagent/pkg/models"

// EventKind identifies an executor event.
type EventKind string

const (
	// EventStart opens the turn.
	EventStart EventKind = "start"

	// EventThought announces a tool call the model proposed.
	EventThought EventKind = "thought"

	// EventToolResult reports a completed tool execution.
	EventToolResult EventKind = "tool_result"

	// EventAIText carries a mid-loop model reply that arrived alongside
	// tool calls.
	EventAIText EventKind = "ai_text"

	// EventFinal carries the final model reply.
	EventFinal EventKind = "final"

	// EventTimeout reports that the wall-clock deadline passed.
	EventTimeout EventKind = "timeout"

	// EventStepBudgetExhausted reports that the step budget ran out.
	EventStepBudgetExhausted EventKind = "step_budget_exhausted"

	// EventCancelled reports external cancellation. It is the last event
	// of a cancelled turn.
	EventCancelled EventKind = "cancelled"

	// EventError reports a loop-terminating failure.
	EventError EventKind = "error"
)

// Event is one element of the ordered executor stream.
type Event struct {
	Kind EventKind

	// Tool fields, set on thought and tool_result events.
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]any
	ToolOK     bool

	// Text is the model reply body on ai_text and final events.
	Text string

	// ClientResults snapshots the turn's client-bound tool payloads at
	// send time, set on ai_text events. The loop keeps mutating the state
	// after the send; consumers must not read state.ClientResults directly.
	ClientResults []models.ClientResult

	// Err is set on error events.
	Err error
}
