package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/internal/agent/providers"
	"github.com/relaypoint/crmagent/pkg/models"
)

const streamBufferSize = 64

var thinkingConfidence = 0.9

// emitter translates executor events into client-facing stream events,
// preserving executor order.
type emitter struct {
	state          *agent.WorkflowState
	threadID       string
	conversationID string
	processed      int
	failed         bool
}

func newEmitter(state *agent.WorkflowState, threadID, conversationID string) *emitter {
	return &emitter{
		state:          state,
		threadID:       threadID,
		conversationID: conversationID,
	}
}

func (e *emitter) emit(event *agent.Event, out chan<- *models.StreamEvent) {
	e.processed++
	switch event.Kind {
	case agent.EventThought:
		out <- &models.StreamEvent{
			Kind:   models.StreamUpdate,
			Update: thinkingUpdate(event),
		}

	case agent.EventAIText:
		e.emitText(event.Text, event.ClientResults, out)

	case agent.EventFinal:
		// The executor has already parsed, labeled, and folded the final
		// structured response by the time this event arrives.
		if e.state.StructuredResponse != nil {
			out <- &models.StreamEvent{
				Kind:   models.StreamUpdate,
				Update: e.state.StructuredResponse,
			}
			return
		}
		e.emitText(event.Text, e.state.ClientResults, out)

	case agent.EventTimeout, agent.EventStepBudgetExhausted, agent.EventCancelled:
		out <- &models.StreamEvent{
			Kind:     models.StreamError,
			Content:  budgetMessage(event.Kind),
			Metadata: map[string]any{"error_type": string(event.Kind)},
		}
		e.failed = true

	case agent.EventError:
		var pe *providers.ProviderError
		if errors.As(event.Err, &pe) {
			out <- &models.StreamEvent{
				Kind:     models.StreamErrorMessage,
				Content:  pe.UserMessage(),
				Metadata: map[string]any{"error_class": string(pe.Class)},
			}
		} else {
			msg := "unknown error"
			if event.Err != nil {
				msg = event.Err.Error()
			}
			out <- &models.StreamEvent{
				Kind:     models.StreamError,
				Content:  msg,
				Metadata: map[string]any{"error_type": "executor_error"},
			}
		}
		e.failed = true
	}
}

// emitText classifies a model reply body: structured JSON becomes a
// structured update, tool-result-looking JSON is suppressed as internal
// chatter, everything else streams as text.
func (e *emitter) emitText(text string, results []models.ClientResult, out chan<- *models.StreamEvent) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, "{") {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &probe); err == nil {
			_, hasType := probe["response_type"]
			_, hasConfidence := probe["confidence"]
			if !hasType && !hasConfidence {
				// Bare tool-result JSON the model echoed back.
				return
			}
			var sr models.StructuredResponse
			if err := json.Unmarshal([]byte(trimmed), &sr); err == nil && sr.ResponseType != "" {
				// Mid-loop structured bodies get the same label mapping and
				// record fold as the executor applies to the final response.
				sr.ConfidenceLabel = agent.ConfidenceLabel(sr.Confidence, e.state.Meta.ConfidenceThreshold)
				agent.FoldClientRecords(&sr, results)
				out <- &models.StreamEvent{Kind: models.StreamUpdate, Update: &sr}
				return
			}
		}
	}
	out <- &models.StreamEvent{
		Kind:    models.StreamUpdate,
		Content: text,
	}
}

// complete sends the terminal event. It is always last absent an error.
func (e *emitter) complete(out chan<- *models.StreamEvent) {
	status := "completed"
	if e.state.Meta.Status != "" {
		status = string(e.state.Meta.Status)
	}
	if e.failed && e.state.Meta.Status == agent.StatusFailed {
		return
	}
	out <- &models.StreamEvent{
		Kind: models.StreamComplete,
		Completion: &models.StreamCompletion{
			ThreadID:        e.threadID,
			ConversationID:  e.conversationID,
			ChunksProcessed: e.processed,
			Status:          status,
		},
	}
}

func thinkingUpdate(event *agent.Event) *models.StructuredResponse {
	confidence := thinkingConfidence
	return &models.StructuredResponse{
		ResponseType:     "thinking",
		Confidence:       &confidence,
		ConfidenceLabel:  models.ConfidenceHigh,
		IntentUnderstood: "Working on your request",
		ActionsTaken:     []string{"Executing " + event.ToolName},
		DataSummary:      map[string]any{},
		Suggestions:      []string{},
		Metadata: map[string]any{
			"tool_name": event.ToolName,
			"tool_args": event.ToolArgs,
		},
	}
}

func budgetMessage(kind agent.EventKind) string {
	switch kind {
	case agent.EventTimeout:
		return "The request took too long and was stopped before completing."
	case agent.EventStepBudgetExhausted:
		return "The request needed more reasoning steps than allowed and was stopped."
	case agent.EventCancelled:
		return "The request was cancelled."
	default:
		return "The request could not be completed."
	}
}
