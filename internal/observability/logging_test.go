package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := context.Background()
	logger.Info(ctx, "provider configured with sk-abcdefghijklmnopqrstuvwxyz0123456789")
	logger.Error(ctx, "request failed", "detail", "api_key=verysecretapikey123456 rejected")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnop") {
		t.Errorf("OpenAI key leaked: %s", out)
	}
	if strings.Contains(out, "verysecretapikey123456") {
		t.Errorf("api key leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestLoggerCarriesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})

	ctx := context.WithValue(context.Background(), ConversationIDKey, "conv_123")
	ctx = context.WithValue(ctx, ConnectionIDKey, "conn1")
	logger.Info(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if record["conversation_id"] != "conv_123" {
		t.Errorf("conversation_id = %v", record["conversation_id"])
	}
	if record["connection_id"] != "conn1" {
		t.Errorf("connection_id = %v", record["connection_id"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug line")
	logger.Info(ctx, "info line")
	logger.Warn(ctx, "warn line")

	out := buf.String()
	if strings.Contains(out, "info line") || strings.Contains(out, "debug line") {
		t.Errorf("low-level records not filtered: %s", out)
	}
	if !strings.Contains(out, "warn line") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})

	logger.Info(context.Background(), "hello", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected text output: %s", out)
	}
}
