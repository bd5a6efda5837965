// Package config loads and validates the agent configuration from YAML or
// JSON5 files, with $include composition, environment variable expansion, and
// environment overrides for the recognized runtime options.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the agent server and CLI.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	LLM        LLMConfig        `yaml:"llm"`
	CRM        CRMConfig        `yaml:"crm"`
	Cache      CacheConfig      `yaml:"cache"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// AgentConfig bounds the tool-use loop and seeds the system prompt.
type AgentConfig struct {
	// MaxSteps is the per-turn step budget.
	MaxSteps int `yaml:"max_steps"`

	// TaskTimeoutSeconds is the wall-clock deadline for one turn.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`

	// LLMTimeoutSeconds bounds a single model call.
	LLMTimeoutSeconds int `yaml:"llm_timeout_seconds"`

	// HighConfidenceThreshold drives the confidence_label mapping and is
	// seeded into the system prompt.
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold"`

	// PromptPreset selects the system prompt template: "verbose" or
	// "optimized".
	PromptPreset string `yaml:"prompt_preset"`

	// Prompt-seeded caps.
	MaxObjects         int `yaml:"max_objects"`
	MaxFieldsPerObject int `yaml:"max_fields_per_object"`
	QueryDefaultLimit  int `yaml:"query_default_limit"`
}

// TaskTimeout returns the turn deadline as a duration.
func (a AgentConfig) TaskTimeout() time.Duration {
	return time.Duration(a.TaskTimeoutSeconds) * time.Second
}

// LLMTimeout returns the per-call deadline as a duration.
func (a AgentConfig) LLMTimeout() time.Duration {
	return time.Duration(a.LLMTimeoutSeconds) * time.Second
}

// LLMConfig binds the agent to one model provider.
type LLMConfig struct {
	// Provider is one of "openai", "groq", "ollama", "anthropic".
	Provider string `yaml:"provider"`

	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// CRMConfig configures the CRM REST adapter. Connections holds statically
// configured credentials for CLI use; a deployment normally resolves
// connections through an external credential service instead.
type CRMConfig struct {
	TimeoutSeconds int                         `yaml:"timeout_seconds"`
	Connections    map[string]ConnectionConfig `yaml:"connections"`
}

// Timeout returns the per-CRM-call deadline as a duration.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectionConfig is one statically configured CRM connection.
type ConnectionConfig struct {
	InstanceURL string `yaml:"instance_url"`
	AccessToken string `yaml:"access_token"`
	APIVersion  string `yaml:"api_version"`
	OrgID       string `yaml:"org_id"`
}

// CacheConfig controls the metadata cache lifetimes and the sweep job.
type CacheConfig struct {
	SObjectTTLHours  int `yaml:"sobject_ttl_hours"`
	MetadataTTLHours int `yaml:"metadata_ttl_hours"`

	// SweepSchedule is a 5-field cron expression; empty means hourly.
	SweepSchedule string `yaml:"sweep_schedule"`

	// Backend selects the cache store: "memory", "sqlite", "postgres".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// SObjectTTL returns the object-list lifetime as a duration.
func (c CacheConfig) SObjectTTL() time.Duration {
	return time.Duration(c.SObjectTTLHours) * time.Hour
}

// MetadataTTL returns the per-object describe lifetime as a duration.
func (c CacheConfig) MetadataTTL() time.Duration {
	return time.Duration(c.MetadataTTLHours) * time.Hour
}

// CheckpointConfig selects the conversation checkpoint store.
type CheckpointConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`

	// LockTimeoutSeconds bounds how long Invoke waits for the per-conversation
	// lock.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds"`
}

// LockTimeout returns the lock acquisition deadline as a duration.
func (c CheckpointConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

var validProviders = map[string]bool{
	"openai":    true,
	"groq":      true,
	"ollama":    true,
	"anthropic": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

// Load reads the config file at path, resolves includes, expands environment
// variables, applies environment overrides and defaults, and validates.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// Default returns a validated configuration built from defaults and
// environment overrides only, for running without a config file.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.TaskTimeoutSeconds == 0 {
		cfg.Agent.TaskTimeoutSeconds = 120
	}
	if cfg.Agent.LLMTimeoutSeconds == 0 {
		cfg.Agent.LLMTimeoutSeconds = 60
	}
	if cfg.Agent.HighConfidenceThreshold == 0 {
		cfg.Agent.HighConfidenceThreshold = 0.85
	}
	if cfg.Agent.PromptPreset == "" {
		cfg.Agent.PromptPreset = "optimized"
	}
	if cfg.Agent.MaxObjects == 0 {
		cfg.Agent.MaxObjects = 200
	}
	if cfg.Agent.MaxFieldsPerObject == 0 {
		cfg.Agent.MaxFieldsPerObject = 100
	}
	if cfg.Agent.QueryDefaultLimit == 0 {
		cfg.Agent.QueryDefaultLimit = 5
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.CRM.TimeoutSeconds == 0 {
		cfg.CRM.TimeoutSeconds = 30
	}
	if cfg.Cache.SObjectTTLHours == 0 {
		cfg.Cache.SObjectTTLHours = 24
	}
	if cfg.Cache.MetadataTTLHours == 0 {
		cfg.Cache.MetadataTTLHours = 6
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "memory"
	}
	if cfg.Checkpoint.LockTimeoutSeconds == 0 {
		cfg.Checkpoint.LockTimeoutSeconds = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "crmagent"
	}
}

// Validate checks enum fields and cross-field requirements.
func (c *Config) Validate() error {
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("llm.provider must be one of openai, groq, ollama, anthropic; got %q", c.LLM.Provider)
	}
	switch c.Agent.PromptPreset {
	case "verbose", "optimized":
	default:
		return fmt.Errorf("agent.prompt_preset must be verbose or optimized; got %q", c.Agent.PromptPreset)
	}
	if c.Agent.HighConfidenceThreshold < 0 || c.Agent.HighConfidenceThreshold > 1 {
		return fmt.Errorf("agent.high_confidence_threshold must be in [0,1]; got %v", c.Agent.HighConfidenceThreshold)
	}
	if !validBackends[c.Checkpoint.Backend] {
		return fmt.Errorf("checkpoint.backend must be one of memory, sqlite, postgres; got %q", c.Checkpoint.Backend)
	}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("cache.backend must be one of memory, sqlite, postgres; got %q", c.Cache.Backend)
	}
	if c.Checkpoint.Backend == "sqlite" && strings.TrimSpace(c.Checkpoint.SQLitePath) == "" {
		return fmt.Errorf("checkpoint.sqlite_path is required for the sqlite backend")
	}
	if c.Checkpoint.Backend == "postgres" && strings.TrimSpace(c.Checkpoint.PostgresURL) == "" {
		return fmt.Errorf("checkpoint.postgres_url is required for the postgres backend")
	}
	if c.Cache.Backend == "sqlite" && strings.TrimSpace(c.Cache.SQLitePath) == "" {
		return fmt.Errorf("cache.sqlite_path is required for the sqlite backend")
	}
	// The postgres cache shares the checkpoint pool.
	if c.Cache.Backend == "postgres" && strings.TrimSpace(c.Checkpoint.PostgresURL) == "" {
		return fmt.Errorf("checkpoint.postgres_url is required for the postgres cache backend")
	}
	return nil
}
