package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaypoint/crmagent/internal/observability"
	"github.com/relaypoint/crmagent/pkg/models"
)

// eventBufferSize bounds the executor event channel.
const eventBufferSize = 64

// ExecutorConfig configures the turn executor.
type ExecutorConfig struct {
	// MaxSteps is the per-turn step budget. A step is one model reply that
	// requested tools. Default: 10.
	MaxSteps int

	// TaskTimeout is the wall-clock deadline for one turn. Default: 120s.
	TaskTimeout time.Duration

	// LLMTimeout bounds a single model call. Default: 60s.
	LLMTimeout time.Duration

	// MaxTokens caps each model response. Default: 4096.
	MaxTokens int

	// Model overrides the provider's default model when set.
	Model string

	// Temperature overrides the provider default when non-nil.
	Temperature *float32

	// PromptPreset selects the system prompt template. Default: optimized.
	PromptPreset PromptPreset

	// Prompt-seeded caps.
	ObjectLimit int
	FieldLimit  int
	QueryLimit  int
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxSteps:     10,
		TaskTimeout:  120 * time.Second,
		LLMTimeout:   60 * time.Second,
		MaxTokens:    4096,
		PromptPreset: PromptOptimized,
	}
}

func sanitizeExecutorConfig(config *ExecutorConfig) *ExecutorConfig {
	defaults := DefaultExecutorConfig()
	if config == nil {
		return defaults
	}
	cfg := *config
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaults.MaxSteps
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaults.TaskTimeout
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaults.LLMTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.PromptPreset == "" {
		cfg.PromptPreset = PromptOptimized
	}
	return &cfg
}

// ResponseParser extracts a StructuredResponse from final model text.
type ResponseParser interface {
	Parse(text string, confidenceThreshold float64) (*models.StructuredResponse, error)
}

// Executor runs the tool-use loop for one turn: call the model, execute any
// tool calls it proposes in order, feed lite results back, and stop on a
// final reply or an exhausted budget. It is single-threaded within a turn.
type Executor struct {
	provider LLMProvider
	registry *ToolRegistry
	parser   ResponseParser
	config   *ExecutorConfig

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewExecutor creates an executor. A nil config uses defaults; a nil parser
// disables structured-response extraction.
func NewExecutor(provider LLMProvider, registry *ToolRegistry, parser ResponseParser, config *ExecutorConfig, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Executor {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{
		provider: provider,
		registry: registry,
		parser:   parser,
		config:   sanitizeExecutorConfig(config),
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Run executes the loop against the seeded state and streams events. The
// channel closes when the turn ends; the state is mutated in place and must
// not be read concurrently with the run.
func (e *Executor) Run(ctx context.Context, state *WorkflowState) (<-chan *Event, error) {
	if e.provider == nil {
		return nil, errors.New("no provider configured")
	}
	if state == nil {
		return nil, errors.New("state is nil")
	}

	events := make(chan *Event, eventBufferSize)
	go func() {
		defer close(events)
		e.run(ctx, state, events)
	}()
	return events, nil
}

func (e *Executor) run(ctx context.Context, state *WorkflowState, events chan<- *Event) {
	runCtx, cancel := context.WithTimeout(ctx, e.config.TaskTimeout)
	defer cancel()

	turnStart := time.Now()
	runCtx, span := e.tracer.Start(runCtx, "agent.turn")
	defer span.End()

	if state.Meta.Metadata == nil {
		state.Meta.Metadata = map[string]string{}
	}
	state.Meta.Metadata["prompt_preset"] = string(e.config.PromptPreset)

	if len(state.Messages) == 0 && state.Request.UserInput != "" {
		state.Messages = append(state.Messages, models.Message{
			Role:    models.RoleUser,
			Content: state.Request.UserInput,
		})
	}

	events <- &Event{Kind: EventStart}

	seenThoughts := map[string]bool{}
	lastText := ""

	for state.RemainingSteps > 0 {
		if done := e.checkDone(ctx, runCtx, state, events, lastText); done {
			e.recordTurn(state, turnStart)
			return
		}

		state.Meta.CurrentNode = "llm"
		text, toolCalls, err := e.complete(runCtx, state)
		if err != nil {
			if done := e.checkDone(ctx, runCtx, state, events, lastText); done {
				e.recordTurn(state, turnStart)
				return
			}
			e.failTurn(runCtx, state, events, err)
			e.recordTurn(state, turnStart)
			return
		}

		state.Messages = append(state.Messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})
		if text != "" {
			lastText = text
		}

		if len(toolCalls) == 0 {
			e.finishTurn(runCtx, state, events, text)
			e.recordTurn(state, turnStart)
			return
		}

		if text != "" {
			results := make([]models.ClientResult, len(state.ClientResults))
			copy(results, state.ClientResults)
			events <- &Event{Kind: EventAIText, Text: text, ClientResults: results}
		}

		state.Meta.CurrentNode = "tools"
		for _, tc := range toolCalls {
			if done := e.checkDone(ctx, runCtx, state, events, lastText); done {
				e.recordTurn(state, turnStart)
				return
			}
			e.executeToolCall(runCtx, state, events, tc, seenThoughts)
		}
		state.RemainingSteps--
	}

	// Step budget exhausted.
	state.Meta.Status = StatusCompleted
	state.Response = &Response{
		Type:    ResponsePartial,
		Content: lastText,
		Error:   &ResponseErrorDetail{Reason: "step_budget_exhausted", Message: "the request needed more steps than allowed"},
	}
	events <- &Event{Kind: EventStepBudgetExhausted, Text: lastText}
	e.updateSummary(state)
	e.recordTurn(state, turnStart)
}

// checkDone handles external cancellation and the task deadline between loop
// boundaries. It returns true when the turn must stop.
func (e *Executor) checkDone(ctx, runCtx context.Context, state *WorkflowState, events chan<- *Event, lastText string) bool {
	select {
	case <-ctx.Done():
		// Caller cancellation wins over the internal deadline.
		state.Meta.Status = StatusCancelled
		state.Response = &Response{
			Type:    ResponseError,
			Content: lastText,
			Error:   &ResponseErrorDetail{Reason: "cancelled"},
		}
		events <- &Event{Kind: EventCancelled}
		return true
	default:
	}
	select {
	case <-runCtx.Done():
		state.Meta.Status = StatusCompleted
		state.Response = &Response{
			Type:    ResponsePartial,
			Content: lastText,
			Error:   &ResponseErrorDetail{Reason: "timeout", Message: fmt.Sprintf("turn exceeded %s", e.config.TaskTimeout)},
		}
		events <- &Event{Kind: EventTimeout, Text: lastText}
		e.updateSummary(state)
		return true
	default:
	}
	return false
}

// complete performs one model call and collects the streamed reply.
func (e *Executor) complete(ctx context.Context, state *WorkflowState) (string, []models.ToolCall, error) {
	req := &CompletionRequest{
		Model:       e.config.Model,
		System:      e.systemPrompt(state),
		Messages:    state.Messages,
		Tools:       e.registry.Specs(),
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}

	llmCtx, cancel := context.WithTimeout(ctx, e.config.LLMTimeout)
	defer cancel()

	start := time.Now()
	chunks, err := e.provider.Complete(llmCtx, req)
	if err != nil {
		e.metrics.RecordLLMRequest(e.provider.Name(), req.Model, "error", time.Since(start).Seconds(), 0, 0)
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	inputTokens, outputTokens := 0, 0
	for chunk := range chunks {
		if chunk.Error != nil {
			e.metrics.RecordLLMRequest(e.provider.Name(), req.Model, "error", time.Since(start).Seconds(), 0, 0)
			return "", nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}
	}
	e.metrics.RecordLLMRequest(e.provider.Name(), req.Model, "ok", time.Since(start).Seconds(), inputTokens, outputTokens)

	return text.String(), toolCalls, nil
}

func (e *Executor) systemPrompt(state *WorkflowState) string {
	return BuildSystemPrompt(e.config.PromptPreset, PromptParams{
		ConfidenceThreshold: state.Meta.ConfidenceThreshold,
		ConnectionID:        state.Meta.ConnectionID,
		ObjectLimit:         e.config.ObjectLimit,
		FieldLimit:          e.config.FieldLimit,
		QueryLimit:          e.config.QueryLimit,
		Summary:             state.Conversation.Summary,
	})
}

// executeToolCall runs one tool call, appends the lite tool message, and
// retains the full payload for the client.
func (e *Executor) executeToolCall(ctx context.Context, state *WorkflowState, events chan<- *Event, tc models.ToolCall, seenThoughts map[string]bool) {
	key := thoughtKey(tc)
	if !seenThoughts[key] {
		seenThoughts[key] = true
		events <- &Event{
			Kind:       EventThought,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			ToolArgs:   tc.Args(),
		}
	}

	start := time.Now()
	result, err := e.registry.Execute(WithConnectionID(ctx, state.Meta.ConnectionID), tc.Name, tc.Input)
	if err != nil {
		result = models.ErrorResult("tool", err.Error())
	}
	status := "ok"
	if !result.OK {
		status = "error"
	}
	e.metrics.RecordToolExecution(tc.Name, status, time.Since(start).Seconds())
	e.logger.Debug(ctx, "tool executed", "tool", tc.Name, "ok", result.OK)

	state.Messages = append(state.Messages, models.Message{
		Role:       models.RoleTool,
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Content:    result.LiteContent(),
	})
	state.AppendClientResult(tc.ID, tc.Name, result.ForClient())

	events <- &Event{
		Kind:       EventToolResult,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		ToolOK:     result.OK,
	}
}

// thoughtKey dedupes thought emission by tool call id, falling back to a
// hash of name and args when the model omitted the id.
func thoughtKey(tc models.ToolCall) string {
	if tc.ID != "" {
		return tc.ID
	}
	sum := sha256.Sum256(append([]byte(tc.Name+"\x00"), tc.Input...))
	return hex.EncodeToString(sum[:8])
}

// finishTurn handles a final reply without tool calls.
func (e *Executor) finishTurn(ctx context.Context, state *WorkflowState, events chan<- *Event, text string) {
	state.Meta.CurrentNode = ""
	state.Meta.Status = StatusCompleted
	state.Response = &Response{Type: ResponseSuccess, Content: text}

	if e.parser != nil {
		parsed, err := e.parser.Parse(text, state.Meta.ConfidenceThreshold)
		if err != nil {
			// Parser failures degrade to a plain text response.
			e.logger.Warn(ctx, "structured response parse failed", "error", err)
		}
		if parsed != nil {
			parsed.ConfidenceLabel = ConfidenceLabel(parsed.Confidence, state.Meta.ConfidenceThreshold)
			FoldClientRecords(parsed, state.ClientResults)
			state.StructuredResponse = parsed
			if parsed.ResponseType == models.ResponseClarificationNeeded {
				state.Response.Type = ResponseClarification
			}
		}
	}

	events <- &Event{Kind: EventFinal, Text: text}
	e.updateSummary(state)
}

// failTurn handles a loop-terminating provider failure.
func (e *Executor) failTurn(ctx context.Context, state *WorkflowState, events chan<- *Event, err error) {
	e.logger.Error(ctx, "turn failed", "error", err)
	state.Meta.Status = StatusFailed
	state.Response = &Response{
		Type:  ResponseError,
		Error: &ResponseErrorDetail{Reason: "llm_error", Message: err.Error()},
	}
	events <- &Event{Kind: EventError, Err: err}
}

func (e *Executor) recordTurn(state *WorkflowState, start time.Time) {
	outcome := string(state.Meta.Status)
	if state.Response != nil {
		outcome = string(state.Response.Type)
	}
	e.metrics.RecordTurn(outcome, time.Since(start).Seconds())
}
