// Package orchestrator is the entry point for running turns: it owns the
// load-run-save cycle around the executor, serializes turns per conversation,
// and translates executor events into the client-facing stream.
package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/internal/checkpoint"
	"github.com/relaypoint/crmagent/internal/observability"
	"github.com/relaypoint/crmagent/pkg/models"
)

// Config holds orchestrator-level settings.
type Config struct {
	// ConfidenceThreshold seeds new conversations.
	ConfidenceThreshold float64

	// MaxSteps is the per-turn step budget.
	MaxSteps int
}

// Orchestrator runs turns against the executor with durable checkpoints.
type Orchestrator struct {
	executor *agent.Executor
	store    checkpoint.Store
	locker   checkpoint.Locker
	config   Config
	logger   *observability.Logger
}

// New creates an Orchestrator. The locker defaults to an in-process one.
func New(executor *agent.Executor, store checkpoint.Store, locker checkpoint.Locker, config Config, logger *observability.Logger) *Orchestrator {
	if locker == nil {
		locker = checkpoint.NewLocalLocker(0)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.85
	}
	if config.MaxSteps <= 0 {
		config.MaxSteps = 10
	}
	return &Orchestrator{
		executor: executor,
		store:    store,
		locker:   locker,
		config:   config,
		logger:   logger,
	}
}

// InvokeRequest is one turn request.
type InvokeRequest struct {
	UserInput      string
	ConnectionID   string
	ConversationID string
	NewThread      bool

	// ThreadID is the caller's channel identifier, echoed on completion.
	// Defaults to the conversation id.
	ThreadID string
}

// InvokeResult is the outcome of a single-shot turn.
type InvokeResult struct {
	ConversationID     string
	FinalText          string
	StructuredResponse *models.StructuredResponse
	State              *agent.WorkflowState
}

// Invoke runs one turn to completion and returns the final answer.
func (o *Orchestrator) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	state, conversationID, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(conversationID)

	events, err := o.executor.Run(ctx, state)
	if err != nil {
		return nil, err
	}
	for event := range events {
		o.logEvent(ctx, conversationID, event)
	}

	o.persist(ctx, conversationID, state)

	result := &InvokeResult{
		ConversationID:     conversationID,
		StructuredResponse: state.StructuredResponse,
		State:              state,
	}
	if state.Response != nil {
		result.FinalText = state.Response.Content
	}
	return result, nil
}

// InvokeStream runs one turn and delivers client-facing events as they
// happen. The returned channel closes after the terminal event.
func (o *Orchestrator) InvokeStream(ctx context.Context, req InvokeRequest) (<-chan *models.StreamEvent, error) {
	state, conversationID, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	events, err := o.executor.Run(ctx, state)
	if err != nil {
		o.locker.Unlock(conversationID)
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = conversationID
	}

	out := make(chan *models.StreamEvent, streamBufferSize)
	go func() {
		defer close(out)
		defer o.locker.Unlock(conversationID)

		emitter := newEmitter(state, threadID, conversationID)
		for event := range events {
			o.logEvent(ctx, conversationID, event)
			emitter.emit(event, out)
		}
		o.persist(ctx, conversationID, state)
		emitter.complete(out)
	}()
	return out, nil
}

// begin validates the request, resolves the conversation id, acquires its
// lock, and produces the turn's seeded state.
func (o *Orchestrator) begin(ctx context.Context, req InvokeRequest) (*agent.WorkflowState, string, error) {
	if strings.TrimSpace(req.UserInput) == "" {
		return nil, "", errors.New("user input is required")
	}
	if strings.TrimSpace(req.ConnectionID) == "" {
		return nil, "", errors.New("connection id is required")
	}

	conversationID := req.ConversationID
	if conversationID == "" || req.NewThread {
		conversationID = "conv_" + uuid.NewString()
	}

	if err := o.locker.Lock(ctx, conversationID); err != nil {
		return nil, "", err
	}

	prior, err := o.store.Load(ctx, conversationID)
	if err != nil {
		// A lost checkpoint degrades to a fresh conversation.
		o.logger.Warn(ctx, "checkpoint load failed", "conversation_id", conversationID, "error", err)
	}

	var state *agent.WorkflowState
	if prior != nil {
		state = prior.Clone()
		state.Meta.ConnectionID = req.ConnectionID
	} else {
		state = agent.NewWorkflowState(conversationID, req.ConnectionID, o.config.ConfidenceThreshold, o.config.MaxSteps)
	}
	state.BeginTurn(req.UserInput, o.config.MaxSteps)
	return state, conversationID, nil
}

// persist saves the checkpoint. A cancelled turn keeps the previous
// checkpoint authoritative.
func (o *Orchestrator) persist(ctx context.Context, conversationID string, state *agent.WorkflowState) {
	if state.Meta.Status == agent.StatusCancelled {
		return
	}
	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.Background()
	}
	if err := o.store.Save(saveCtx, conversationID, state); err != nil {
		o.logger.Error(ctx, "checkpoint save failed", "conversation_id", conversationID, "error", err)
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, conversationID string, event *agent.Event) {
	wl, ok := o.store.(checkpoint.WritesLogger)
	if !ok {
		return
	}
	if err := wl.WritesLog(ctx, conversationID, event); err != nil {
		o.logger.Warn(ctx, "writes log append failed", "conversation_id", conversationID, "error", err)
	}
}
