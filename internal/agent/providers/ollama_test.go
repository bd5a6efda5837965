package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/pkg/models"
)

func TestBuildOllamaMessages(t *testing.T) {
	req := &agent.CompletionRequest{
		System: "sys",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "lookup", Input: json.RawMessage(`{"q":"test"}`)},
				},
			},
			{Role: models.RoleTool, ToolCallID: "call-1", Name: "lookup", Content: "ok"},
		},
	}

	msgs := buildOllamaMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "sys" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[2].Role != "assistant" || len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", msgs[2])
	}
	if string(msgs[2].ToolCalls[0].Function.Arguments) != `{"q":"test"}` {
		t.Errorf("tool args = %s", msgs[2].ToolCalls[0].Function.Arguments)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolName != "lookup" || msgs[3].Content != "ok" {
		t.Errorf("tool result message mismatch: %+v", msgs[3])
	}
}

func TestOllamaStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		lines := []string{
			`{"message":{"role":"assistant","content":"Hello"}}`,
			`{"message":{"role":"assistant","content":" there"}}`,
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"lookup","arguments":{"q":"a"}}}]}}`,
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"lookup","arguments":{"q":"a"}}}]}}`,
			`{"done":true,"prompt_eval_count":11,"eval_count":7}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	chunks, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var text string
	var toolCalls []*models.ToolCall
	var done *agent.CompletionChunk
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
		text += chunk.Text
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, chunk.ToolCall)
		}
		if chunk.Done {
			done = chunk
		}
	}

	if text != "Hello there" {
		t.Errorf("text = %q", text)
	}
	// Identical tool calls repeated across lines collapse to one.
	if len(toolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(toolCalls))
	}
	if toolCalls[0].Name != "lookup" {
		t.Errorf("tool name = %q", toolCalls[0].Name)
	}
	if done == nil {
		t.Fatal("no done chunk")
	}
	if done.InputTokens != 11 || done.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 11/7", done.InputTokens, done.OutputTokens)
	}
}

func TestOllamaHTTPErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL, DefaultModel: "llama3"})
	_, err := p.Complete(context.Background(), &agent.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := err.(*ProviderError)
	if !ok {
		t.Fatalf("error type %T, want *ProviderError", err)
	}
	if pe.Class != ErrClassRateLimit {
		t.Errorf("class = %s, want %s", pe.Class, ErrClassRateLimit)
	}
}

func TestOllamaRequiresModel(t *testing.T) {
	p := NewOllamaProvider(OllamaConfig{})
	if _, err := p.Complete(context.Background(), &agent.CompletionRequest{}); err == nil {
		t.Error("expected error when no model configured")
	}
}
