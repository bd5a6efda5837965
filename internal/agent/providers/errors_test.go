package providers

import (
	"errors"
	"testing"
)

func TestClassifyByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorClass
	}{
		{"unauthorized", 401, ErrClassAPIKey},
		{"forbidden", 403, ErrClassAPIKey},
		{"throttled", 429, ErrClassRateLimit},
		{"payment required", 402, ErrClassQuota},
		{"server error", 500, ErrClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("openai", "gpt-4o", tt.status, errors.New("boom"))
			if pe.Class != tt.want {
				t.Errorf("class = %s, want %s", pe.Class, tt.want)
			}
			if pe.Status != tt.status {
				t.Errorf("status = %d, want %d", pe.Status, tt.status)
			}
		})
	}
}

func TestClassifyByMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorClass
	}{
		{"Incorrect API key provided: sk-xxx", ErrClassAPIKey},
		{"authentication failed", ErrClassAPIKey},
		{"Rate limit reached for requests", ErrClassRateLimit},
		{"You exceeded your current quota, insufficient_quota", ErrClassQuota},
		{"your credit balance is too low", ErrClassQuota},
		{"connection reset by peer", ErrClassOther},
	}
	for _, tt := range tests {
		pe := Classify("anthropic", "", 0, errors.New(tt.msg))
		if pe.Class != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, pe.Class, tt.want)
		}
	}
}

func TestClassifyNilAndPassthrough(t *testing.T) {
	if Classify("openai", "", 0, nil) != nil {
		t.Error("nil error should classify to nil")
	}

	orig := &ProviderError{Class: ErrClassRateLimit, Provider: "groq"}
	if got := Classify("openai", "", 500, orig); got != orig {
		t.Errorf("existing ProviderError should pass through, got %+v", got)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	pe := Classify("ollama", "llama3", 0, cause)
	if !errors.Is(pe, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestUserMessageTemplates(t *testing.T) {
	for _, class := range []ErrorClass{ErrClassAPIKey, ErrClassRateLimit, ErrClassQuota, ErrClassOther} {
		pe := &ProviderError{Class: class}
		if pe.UserMessage() == "" {
			t.Errorf("no user message for class %s", class)
		}
	}

	unknown := &ProviderError{Class: ErrorClass("bogus")}
	if unknown.UserMessage() != userMessages[ErrClassOther] {
		t.Error("unknown class should fall back to the generic template")
	}
}

func TestProviderErrorString(t *testing.T) {
	pe := &ProviderError{
		Class:    ErrClassRateLimit,
		Provider: "groq",
		Model:    "llama-3.3-70b-versatile",
		Status:   429,
		Message:  "slow down",
	}
	got := pe.Error()
	want := "groq/llama-3.3-70b-versatile: rate_limit (status 429): slow down"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
