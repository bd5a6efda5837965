package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/relaypoint/crmagent/pkg/models"
)

// scriptedProvider replays canned replies in order.
type scriptedProvider struct {
	replies []scriptedReply
	calls   int

	// lastRequest captures the most recent request for assertions.
	lastRequest *CompletionRequest
}

type scriptedReply struct {
	text      string
	toolCalls []models.ToolCall
	err       error
}

func (p *scriptedProvider) Complete(_ context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.lastRequest = req
	if p.calls >= len(p.replies) {
		return nil, errors.New("no scripted reply left")
	}
	reply := p.replies[p.calls]
	p.calls++
	if reply.err != nil {
		return nil, reply.err
	}

	ch := make(chan *CompletionChunk, len(reply.toolCalls)+2)
	if reply.text != "" {
		ch <- &CompletionChunk{Text: reply.text}
	}
	for i := range reply.toolCalls {
		ch <- &CompletionChunk{ToolCall: &reply.toolCalls[i]}
	}
	ch <- &CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string    { return "scripted" }
func (p *scriptedProvider) Models() []Model { return nil }
func (p *scriptedProvider) SupportsTools() bool {
	return true
}

// echoTool returns a fixed payload.
type echoTool struct {
	name    string
	result  *models.ToolResult
	calls   int
	lastArg json.RawMessage
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "test tool" }
func (t *echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (t *echoTool) Execute(_ context.Context, params json.RawMessage) (*models.ToolResult, error) {
	t.calls++
	t.lastArg = params
	return t.result, nil
}

// passthroughParser treats any text starting with '{' as a parseable
// structured response.
type passthroughParser struct{}

func (passthroughParser) Parse(text string, _ float64) (*models.StructuredResponse, error) {
	var sr models.StructuredResponse
	if err := json.Unmarshal([]byte(text), &sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

func newTestState(maxSteps int) *WorkflowState {
	state := NewWorkflowState("conv_test", "conn-1", 0.7, maxSteps)
	state.BeginTurn("show me accounts", maxSteps)
	return state
}

func collectEvents(t *testing.T, events <-chan *Event) []*Event {
	t.Helper()
	var out []*Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func eventKinds(events []*Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestExecutorFinalReply(t *testing.T) {
	final := `{"response_type":"metadata_query","confidence":0.9,"intent_understood":"list accounts","actions_taken":["searched"],"data_summary":{"object_name":"Account"},"suggestions":["ask about fields"]}`
	provider := &scriptedProvider{replies: []scriptedReply{{text: final}}}
	exec := NewExecutor(provider, NewToolRegistry(), passthroughParser{}, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events)

	kinds := eventKinds(got)
	if len(kinds) != 2 || kinds[0] != EventStart || kinds[1] != EventFinal {
		t.Fatalf("unexpected event kinds: %v", kinds)
	}
	if state.Meta.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", state.Meta.Status)
	}
	if state.Response == nil || state.Response.Type != ResponseSuccess {
		t.Fatalf("unexpected response: %+v", state.Response)
	}
	if state.StructuredResponse == nil {
		t.Fatal("expected structured response")
	}
	if state.StructuredResponse.ConfidenceLabel != models.ConfidenceHigh {
		t.Errorf("confidence label = %s, want high", state.StructuredResponse.ConfidenceLabel)
	}
	if state.RemainingSteps != 5 {
		t.Errorf("remaining steps = %d, want 5 (no tool step consumed)", state.RemainingSteps)
	}
	if state.Meta.Metadata["prompt_preset"] != string(PromptOptimized) {
		t.Errorf("prompt preset = %q", state.Meta.Metadata["prompt_preset"])
	}
}

func TestExecutorToolLoop(t *testing.T) {
	tool := &echoTool{
		name:   "search_for_sobjects",
		result: models.OKResult(map[string]any{"matches": []string{"Account"}}),
	}
	registry := NewToolRegistry()
	registry.Register(tool)

	provider := &scriptedProvider{replies: []scriptedReply{
		{toolCalls: []models.ToolCall{{ID: "call_1", Name: "search_for_sobjects", Input: json.RawMessage(`{"search_terms":["account"]}`)}}},
		{text: "Account is the object you want."},
	}}
	exec := NewExecutor(provider, registry, nil, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events)

	kinds := eventKinds(got)
	want := []EventKind{EventStart, EventThought, EventToolResult, EventFinal}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}

	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1", tool.calls)
	}
	if state.RemainingSteps != 4 {
		t.Errorf("remaining steps = %d, want 4", state.RemainingSteps)
	}
	if len(state.ClientResults) != 1 {
		t.Fatalf("client results = %d, want 1", len(state.ClientResults))
	}
	if state.ClientResults[0].ToolName != "search_for_sobjects" {
		t.Errorf("client result tool = %s", state.ClientResults[0].ToolName)
	}

	// Transcript: user, assistant(tool call), tool, assistant(final).
	if len(state.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(state.Messages))
	}
	if state.Messages[2].Role != models.RoleTool || state.Messages[2].ToolCallID != "call_1" {
		t.Errorf("unexpected tool message: %+v", state.Messages[2])
	}
}

func TestExecutorRedactsQueryRecords(t *testing.T) {
	full := map[string]any{
		"metadata":      map[string]any{"total_size": 2, "done": true},
		"records_count": 2,
		"records":       []map[string]any{{"Id": "001"}, {"Id": "002"}},
	}
	fullRaw, _ := json.Marshal(full)
	lite, _ := json.Marshal(map[string]any{
		"metadata":      map[string]any{"total_size": 2, "done": true},
		"records_count": 2,
	})
	tool := &echoTool{
		name:   "execute_soql_query",
		result: &models.ToolResult{OK: true, Value: lite, ClientValue: fullRaw},
	}
	registry := NewToolRegistry()
	registry.Register(tool)

	final := `{"response_type":"data_query","confidence":0.9,"intent_understood":"accounts","actions_taken":[],"data_summary":{"object_name":"Account","total_size":2,"records_count":2,"query_executed":"SELECT Id FROM Account LIMIT 5"},"suggestions":[]}`
	provider := &scriptedProvider{replies: []scriptedReply{
		{toolCalls: []models.ToolCall{{ID: "call_q", Name: "execute_soql_query", Input: json.RawMessage(`{"query":"SELECT Id FROM Account LIMIT 5"}`)}}},
		{text: final},
	}}
	exec := NewExecutor(provider, registry, passthroughParser{}, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collectEvents(t, events)

	// The tool message fed to the model must not contain records.
	var toolMsg *models.Message
	for i := range state.Messages {
		if state.Messages[i].Role == models.RoleTool {
			toolMsg = &state.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in transcript")
	}
	var liteView map[string]any
	if err := json.Unmarshal([]byte(toolMsg.Content), &liteView); err != nil {
		t.Fatalf("tool message is not JSON: %v", err)
	}
	if _, ok := liteView["records"]; ok {
		t.Error("records leaked into the model-visible tool message")
	}

	// client_results carries the full payload.
	var clientView map[string]any
	if err := json.Unmarshal(state.ClientResults[0].Value, &clientView); err != nil {
		t.Fatalf("client result is not JSON: %v", err)
	}
	if _, ok := clientView["records"]; !ok {
		t.Error("client result missing records")
	}

	// Records folded back into the structured response.
	if state.StructuredResponse == nil {
		t.Fatal("expected structured response")
	}
	records, ok := state.StructuredResponse.DataSummary["records"].([]any)
	if !ok || len(records) != 2 {
		t.Errorf("folded records = %v", state.StructuredResponse.DataSummary["records"])
	}
	if _, ok := state.StructuredResponse.DataSummary["records_count"]; ok {
		t.Error("records_count should be replaced by records")
	}
}

func TestExecutorStepBudgetExhausted(t *testing.T) {
	tool := &echoTool{name: "search_for_sobjects", result: models.OKResult(map[string]any{})}
	registry := NewToolRegistry()
	registry.Register(tool)

	// Every reply asks for another tool call; budget of 2 must stop it.
	reply := scriptedReply{toolCalls: []models.ToolCall{{ID: "c", Name: "search_for_sobjects", Input: json.RawMessage(`{}`)}}}
	provider := &scriptedProvider{replies: []scriptedReply{reply, reply, reply}}
	exec := NewExecutor(provider, registry, nil, nil, nil, nil, nil)

	state := newTestState(2)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Kind != EventStepBudgetExhausted {
		t.Fatalf("last event = %s, want step_budget_exhausted", last.Kind)
	}
	if state.Response == nil || state.Response.Type != ResponsePartial {
		t.Fatalf("unexpected response: %+v", state.Response)
	}
	if state.Response.Error == nil || state.Response.Error.Reason != "step_budget_exhausted" {
		t.Errorf("unexpected error detail: %+v", state.Response.Error)
	}
	if state.RemainingSteps != 0 {
		t.Errorf("remaining steps = %d, want 0", state.RemainingSteps)
	}
	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2", provider.calls)
	}
}

func TestExecutorThoughtDedupe(t *testing.T) {
	tool := &echoTool{name: "search_for_sobjects", result: models.OKResult(map[string]any{})}
	registry := NewToolRegistry()
	registry.Register(tool)

	// The same tool_call_id twice in one reply emits one thought.
	provider := &scriptedProvider{replies: []scriptedReply{
		{toolCalls: []models.ToolCall{
			{ID: "dup", Name: "search_for_sobjects", Input: json.RawMessage(`{}`)},
			{ID: "dup", Name: "search_for_sobjects", Input: json.RawMessage(`{}`)},
		}},
		{text: "done"},
	}}
	exec := NewExecutor(provider, registry, nil, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events)

	thoughts := 0
	results := 0
	for _, ev := range got {
		switch ev.Kind {
		case EventThought:
			thoughts++
		case EventToolResult:
			results++
		}
	}
	if thoughts != 1 {
		t.Errorf("thoughts = %d, want 1", thoughts)
	}
	if results != 2 {
		t.Errorf("tool results = %d, want 2 (both calls still execute)", results)
	}
}

func TestExecutorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tool := &echoTool{name: "search_for_sobjects", result: models.OKResult(map[string]any{})}
	registry := NewToolRegistry()
	registry.Register(tool)

	reply := scriptedReply{toolCalls: []models.ToolCall{{ID: "c", Name: "search_for_sobjects", Input: json.RawMessage(`{}`)}}}
	provider := &scriptedProvider{replies: []scriptedReply{reply, reply, reply, reply}}
	exec := NewExecutor(provider, registry, nil, nil, nil, nil, nil)

	cancel()
	state := newTestState(5)
	events, err := exec.Run(ctx, state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Kind != EventCancelled {
		t.Fatalf("last event = %s, want cancelled", last.Kind)
	}
	if state.Meta.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", state.Meta.Status)
	}
}

func TestExecutorProviderError(t *testing.T) {
	provider := &scriptedProvider{replies: []scriptedReply{{err: errors.New("rate limited")}}}
	exec := NewExecutor(provider, NewToolRegistry(), nil, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Kind != EventError {
		t.Fatalf("last event = %s, want error", last.Kind)
	}
	if state.Meta.Status != StatusFailed {
		t.Errorf("status = %s, want failed", state.Meta.Status)
	}
	if state.Response == nil || state.Response.Error == nil || state.Response.Error.Reason != "llm_error" {
		t.Errorf("unexpected response: %+v", state.Response)
	}
}

func TestExecutorSeedsUserMessageAndPrompt(t *testing.T) {
	provider := &scriptedProvider{replies: []scriptedReply{{text: "hi"}}}
	exec := NewExecutor(provider, NewToolRegistry(), nil, nil, nil, nil, nil)

	state := newTestState(5)
	state.Conversation.Summary = &models.ConversationSummary{
		ObjectResolution: models.ObjectResolution{APINames: []string{"Account"}},
	}
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collectEvents(t, events)

	req := provider.lastRequest
	if req == nil {
		t.Fatal("provider never called")
	}
	if len(req.Messages) == 0 || req.Messages[0].Role != models.RoleUser || req.Messages[0].Content != "show me accounts" {
		t.Errorf("first message = %+v", req.Messages)
	}
	if req.System == "" {
		t.Fatal("empty system prompt")
	}
	if want := "Resolved objects: Account"; !strings.Contains(req.System, want) {
		t.Errorf("system prompt missing summary line %q", want)
	}
}

func TestExecutorUpdatesSummaryFromDataQuery(t *testing.T) {
	final := `{"response_type":"data_query","confidence":0.9,"intent_understood":"x","actions_taken":[],"data_summary":{"object_name":"Contact","total_size":1,"query_executed":"SELECT Id FROM Contact LIMIT 5"},"suggestions":[]}`
	provider := &scriptedProvider{replies: []scriptedReply{{text: final}}}
	exec := NewExecutor(provider, NewToolRegistry(), passthroughParser{}, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collectEvents(t, events)

	summary := state.Conversation.Summary
	if summary == nil {
		t.Fatal("expected summary")
	}
	if len(summary.ObjectResolution.APINames) != 1 || summary.ObjectResolution.APINames[0] != "Contact" {
		t.Errorf("api names = %v", summary.ObjectResolution.APINames)
	}
	if len(summary.TechnicalContext.SuccessfulQueries) != 1 {
		t.Errorf("successful queries = %v", summary.TechnicalContext.SuccessfulQueries)
	}
}

func TestExecutorUpdatesSummaryFromRelationshipQuery(t *testing.T) {
	// The edges use the relationship tool's own key names.
	final := `{"response_type":"relationship_query","confidence":0.9,"intent_understood":"x","actions_taken":[],"data_summary":{"object_name":"Account","child_relationships":[{"relationship_query_name":"Contacts","child_object_name":"Contact"}],"lookup_relationships":[{"field_name":"OwnerId","reference_to_object_name":["User"]}]},"suggestions":[]}`
	provider := &scriptedProvider{replies: []scriptedReply{{text: final}}}
	exec := NewExecutor(provider, NewToolRegistry(), passthroughParser{}, nil, nil, nil, nil)

	state := newTestState(5)
	events, err := exec.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collectEvents(t, events)

	summary := state.Conversation.Summary
	if summary == nil {
		t.Fatal("expected summary")
	}
	children := summary.ObjectResolution.ChildRelationships
	if len(children) != 1 || children[0].Name != "Contacts" || children[0].Related != "Contact" {
		t.Errorf("child relationships = %v", children)
	}
	lookups := summary.ObjectResolution.LookupRelationships
	if len(lookups) != 1 || lookups[0].Name != "OwnerId" || lookups[0].Related != "User" {
		t.Errorf("lookup relationships = %v", lookups)
	}
}
