// Package providers implements LLM backends for the agent executor: OpenAI
// and Groq over the OpenAI-compatible API, Anthropic over its native SDK, and
// Ollama over its local HTTP API. Each provider converts the executor's
// message transcript to its wire format, streams the response back as
// CompletionChunks, and classifies failures into a small set of stable
// error classes.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass partitions provider failures into the categories the
// orchestrator maps to user-facing messages.
type ErrorClass string

const (
	// ErrClassAPIKey covers authentication failures: missing, malformed,
	// or revoked API keys.
	ErrClassAPIKey ErrorClass = "api_key_invalid"

	// ErrClassRateLimit covers request throttling (HTTP 429).
	ErrClassRateLimit ErrorClass = "rate_limit"

	// ErrClassQuota covers billing and quota exhaustion.
	ErrClassQuota ErrorClass = "quota"

	// ErrClassOther is everything else, including transient network
	// failures and server errors.
	ErrClassOther ErrorClass = "other"
)

// userMessages maps each class to the fixed template shown to end users.
// Classes never expose raw provider error text to clients.
var userMessages = map[ErrorClass]string{
	ErrClassAPIKey:    "The AI service rejected the configured credentials. Please contact your administrator.",
	ErrClassRateLimit: "The AI service is receiving too many requests right now. Please try again in a moment.",
	ErrClassQuota:     "The AI service quota has been exhausted. Please contact your administrator.",
	ErrClassOther:     "The AI service encountered an unexpected error. Please try again.",
}

// ProviderError wraps a provider failure with its classification and the
// context needed for logging. The wrapped cause is preserved for errors.Is
// and errors.As.
type ProviderError struct {
	Class    ErrorClass
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString("/")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Class))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// UserMessage returns the fixed client-facing template for the error class.
func (e *ProviderError) UserMessage() string {
	if msg, ok := userMessages[e.Class]; ok {
		return msg
	}
	return userMessages[ErrClassOther]
}

// Classify wraps err as a ProviderError with a class inferred from the HTTP
// status when known, otherwise from the error text. A nil err returns nil.
// An err that already is a ProviderError passes through unchanged.
func Classify(provider, model string, status int, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{
		Class:    classify(status, err),
		Provider: provider,
		Model:    model,
		Status:   status,
		Message:  err.Error(),
		Cause:    err,
	}
}

func classify(status int, err error) ErrorClass {
	switch status {
	case 401, 403:
		return ErrClassAPIKey
	case 429:
		return ErrClassRateLimit
	case 402:
		return ErrClassQuota
	}

	// Network-level failures are transient and stay in the catch-all class.
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrClassOther
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "invalid api key", "invalid_api_key", "incorrect api key", "authentication", "unauthorized", "api key"):
		return ErrClassAPIKey
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "429"):
		return ErrClassRateLimit
	case containsAny(msg, "insufficient_quota", "insufficient quota", "quota exceeded", "billing", "credit balance"):
		return ErrClassQuota
	}
	return ErrClassOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
