package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the orchestration core's operational signals: turn outcomes,
// LLM latency and token spend, tool invocations, cache effectiveness, and
// checkpoint writes.
type Metrics struct {
	// TurnCounter counts agent turns by outcome.
	// Labels: outcome (success|error|clarification|partial|cancelled)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	TurnDuration prometheus.Histogram

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// CacheCounter counts metadata cache lookups.
	// Labels: kind (list|metadata), result (hit|miss|error)
	CacheCounter *prometheus.CounterVec

	// CheckpointCounter counts checkpoint operations.
	// Labels: op (load|save), status (success|error)
	CheckpointCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with reg. Call once
// per process; a nil registerer uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmagent_turns_total",
				Help: "Total number of agent turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crmagent_turn_duration_seconds",
				Help:    "Duration of agent turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crmagent_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmagent_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmagent_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmagent_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crmagent_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		CacheCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmagent_metadata_cache_lookups_total",
				Help: "Total metadata cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),
		CheckpointCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmagent_checkpoint_ops_total",
				Help: "Total checkpoint operations by op and status",
			},
			[]string{"op", "status"},
		),
	}
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordLLMRequest records one LLM call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCacheLookup records one metadata cache lookup.
func (m *Metrics) RecordCacheLookup(kind, result string) {
	if m == nil {
		return
	}
	m.CacheCounter.WithLabelValues(kind, result).Inc()
}

// RecordCheckpoint records one checkpoint load or save.
func (m *Metrics) RecordCheckpoint(op, status string) {
	if m == nil {
		return
	}
	m.CheckpointCounter.WithLabelValues(op, status).Inc()
}
