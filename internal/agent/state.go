// Package agent implements the turn executor: the workflow state container,
// the LLM provider contract, the tool registry, and the step-budgeted loop
// that alternates model replies with tool execution until a final answer.
package agent

import (
	"time"

	"github.com/relaypoint/crmagent/pkg/models"
)

// StateVersion tags serialized WorkflowState payloads.
const StateVersion = "v1"

// Status is the lifecycle state of a turn.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ResponseKind classifies the turn-level outcome.
type ResponseKind string

const (
	ResponseSuccess       ResponseKind = "success"
	ResponseError         ResponseKind = "error"
	ResponseClarification ResponseKind = "clarification"
	ResponsePartial       ResponseKind = "partial"
)

// Meta carries turn identity and execution status.
type Meta struct {
	WorkflowID          string    `json:"workflow_id"`
	Version             string    `json:"version"`
	ConversationID      string    `json:"conversation_id"`
	StartedAt           time.Time `json:"started_at"`
	CurrentNode         string    `json:"current_node,omitempty"`
	Status              Status    `json:"status"`
	Locale              string    `json:"locale,omitempty"`
	ConnectionID        string    `json:"connection_id"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`

	// Metadata carries per-turn annotations such as the prompt preset.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Request is the user input for the current turn.
type Request struct {
	UserInput string `json:"user_input"`
}

// ResponseErrorDetail describes a turn-level failure.
type ResponseErrorDetail struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Response is the turn-level outcome envelope.
type Response struct {
	Type    ResponseKind         `json:"type"`
	Content string               `json:"content,omitempty"`
	Error   *ResponseErrorDetail `json:"error,omitempty"`
}

// Conversation holds the inter-turn memory. Summary is the only state that
// survives across turns besides meta.
type Conversation struct {
	Summary *models.ConversationSummary `json:"summary,omitempty"`
}

// WorkflowState is the canonical turn container. The orchestrator owns it
// exclusively during a turn; the checkpointer owns the durable copy between
// turns.
type WorkflowState struct {
	Meta               Meta                       `json:"meta"`
	Request            Request                    `json:"request"`
	Messages           []models.Message           `json:"messages"`
	RemainingSteps     int                        `json:"remaining_steps"`
	Conversation       Conversation               `json:"conversation"`
	Response           *Response                  `json:"response,omitempty"`
	ClientResults      []models.ClientResult      `json:"client_results"`
	StructuredResponse *models.StructuredResponse `json:"structured_response,omitempty"`
}

// NewWorkflowState creates fresh state for a conversation id.
func NewWorkflowState(conversationID, connectionID string, confidenceThreshold float64, maxSteps int) *WorkflowState {
	return &WorkflowState{
		Meta: Meta{
			WorkflowID:          conversationID,
			Version:             StateVersion,
			ConversationID:      conversationID,
			StartedAt:           time.Now(),
			Status:              StatusRunning,
			ConnectionID:        connectionID,
			ConfidenceThreshold: confidenceThreshold,
		},
		RemainingSteps: maxSteps,
	}
}

// BeginTurn resets turn-scoped fields ahead of a new invocation. History is
// carried exclusively in Conversation.Summary; messages always start empty.
func (s *WorkflowState) BeginTurn(userInput string, maxSteps int) {
	s.Request.UserInput = userInput
	s.Messages = nil
	s.ClientResults = nil
	s.Response = nil
	s.StructuredResponse = nil
	s.RemainingSteps = maxSteps
	s.Meta.StartedAt = time.Now()
	s.Meta.Status = StatusRunning
	s.Meta.CurrentNode = ""
	s.Meta.Version = StateVersion
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Meta.Metadata != nil {
		out.Meta.Metadata = make(map[string]string, len(s.Meta.Metadata))
		for k, v := range s.Meta.Metadata {
			out.Meta.Metadata[k] = v
		}
	}
	if s.Messages != nil {
		out.Messages = make([]models.Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	if s.ClientResults != nil {
		out.ClientResults = make([]models.ClientResult, len(s.ClientResults))
		copy(out.ClientResults, s.ClientResults)
	}
	out.Conversation.Summary = s.Conversation.Summary.Clone()
	if s.Response != nil {
		resp := *s.Response
		if s.Response.Error != nil {
			detail := *s.Response.Error
			resp.Error = &detail
		}
		out.Response = &resp
	}
	if s.StructuredResponse != nil {
		sr := *s.StructuredResponse
		out.StructuredResponse = &sr
	}
	return &out
}

// AppendClientResult records an untruncated tool result for the client.
func (s *WorkflowState) AppendClientResult(toolCallID, toolName string, value []byte) {
	s.ClientResults = append(s.ClientResults, models.ClientResult{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Value:      value,
	})
}
