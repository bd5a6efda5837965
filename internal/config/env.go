package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overlays the recognized environment variables onto cfg. Environment
// values win over file values so deployments can tune a shared config file
// per instance.
func ApplyEnv(cfg *Config) {
	envInt("AI_REACT_MAX_STEPS", &cfg.Agent.MaxSteps)
	envFloat("AI_REACT_HIGH_CONFIDENCE_THRESHOLD", &cfg.Agent.HighConfidenceThreshold)
	envInt("TASK_TIMEOUT_SECONDS", &cfg.Agent.TaskTimeoutSeconds)
	envInt("LLM_TIMEOUT_SECONDS", &cfg.Agent.LLMTimeoutSeconds)
	envString("AI_REACT_PROMPT_PRESET", &cfg.Agent.PromptPreset)

	envInt("METADATA_MAX_OBJECTS", &cfg.Agent.MaxObjects)
	envInt("METADATA_MAX_FIELDS_PER_OBJECT", &cfg.Agent.MaxFieldsPerObject)
	envInt("QUERY_DEFAULT_LIMIT", &cfg.Agent.QueryDefaultLimit)

	envString("LLM_PROVIDER", &cfg.LLM.Provider)
	envString("LLM_MODEL_NAME", &cfg.LLM.Model)
	envString("LLM_API_KEY", &cfg.LLM.APIKey)
	envString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	envInt("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	if raw, ok := lookup("LLM_TEMPERATURE"); ok {
		if v, err := strconv.ParseFloat(raw, 32); err == nil {
			t := float32(v)
			cfg.LLM.Temperature = &t
		}
	}

	envInt("SOBJECT_CACHE_TTL_HOURS", &cfg.Cache.SObjectTTLHours)
	envInt("METADATA_CACHE_TTL_HOURS", &cfg.Cache.MetadataTTLHours)

	envString("CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	envString("CHECKPOINT_SQLITE_PATH", &cfg.Checkpoint.SQLitePath)
	envString("CHECKPOINT_POSTGRES_URL", &cfg.Checkpoint.PostgresURL)

	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)

	if raw, ok := lookup("OTEL_TRACING_ENABLED"); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Tracing.Enabled = v
		}
	}
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
}

func lookup(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}
	return strings.TrimSpace(raw), true
}

func envString(key string, dst *string) {
	if raw, ok := lookup(key); ok {
		*dst = raw
	}
}

func envInt(key string, dst *int) {
	if raw, ok := lookup(key); ok {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}

func envFloat(key string, dst *float64) {
	if raw, ok := lookup(key); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			*dst = v
		}
	}
}
