package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	req := &agent.CompletionRequest{
		System: "be helpful",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "how many accounts?"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "execute_soql_query", Input: json.RawMessage(`{"query":"SELECT COUNT() FROM Account"}`)},
				},
			},
			{Role: models.RoleTool, ToolCallID: "call-1", Name: "execute_soql_query", Content: `{"records_count":42}`},
		},
	}

	msgs := p.convertMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be helpful" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("role = %q, want user", msgs[1].Role)
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant || len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "execute_soql_query" {
		t.Errorf("tool name = %q", msgs[2].ToolCalls[0].Function.Name)
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "call-1" {
		t.Errorf("tool result message mismatch: %+v", msgs[3])
	}
}

func TestConvertOpenAIToolsSchemaFallback(t *testing.T) {
	tools := convertOpenAITools([]agent.ToolSpec{
		{Name: "good", Description: "d", Schema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
		{Name: "broken", Schema: json.RawMessage(`not json`)},
	})
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Function.Name != "good" {
		t.Errorf("name = %q", tools[0].Function.Name)
	}

	params, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("fallback parameters type %T", tools[1].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("fallback schema = %v, want empty object schema", params)
	}
}

func TestNewGroqProviderDefaults(t *testing.T) {
	p, err := NewGroqProvider(OpenAIConfig{APIKey: "gsk-test"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "groq" {
		t.Errorf("name = %q, want groq", p.Name())
	}
	if !p.SupportsTools() {
		t.Error("groq should support tools")
	}
	if len(p.Models()) == 0 {
		t.Error("no models listed")
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := NewGroqProvider(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}
}
