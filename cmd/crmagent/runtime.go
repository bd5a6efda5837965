package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/internal/agent/providers"
	"github.com/relaypoint/crmagent/internal/agent/tools"
	"github.com/relaypoint/crmagent/internal/checkpoint"
	"github.com/relaypoint/crmagent/internal/config"
	"github.com/relaypoint/crmagent/internal/crm"
	"github.com/relaypoint/crmagent/internal/metacache"
	"github.com/relaypoint/crmagent/internal/observability"
	"github.com/relaypoint/crmagent/internal/orchestrator"
	"github.com/relaypoint/crmagent/internal/respparse"
)

// runtime wires the configured provider, stores, cache, and executor into a
// ready Orchestrator. closers run in reverse order on Close.
type runtime struct {
	cfg          *config.Config
	logger       *observability.Logger
	orchestrator *orchestrator.Orchestrator
	cache        *metacache.Cache

	closers []func()
}

// loadConfig reads the config file when a path is given, otherwise builds the
// configuration from defaults and environment overrides.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func newRuntime(configPath string) (*runtime, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	rt.logger = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	})

	provider, err := buildProvider(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	cacheStore, err := rt.buildCacheStore()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.cache = metacache.New(cacheStore, metacache.Config{
		ListTTL:     cfg.Cache.SObjectTTL(),
		MetadataTTL: cfg.Cache.MetadataTTL(),
	}, rt.logger, metrics)

	client, err := buildCRMClient(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	registry := agent.NewToolRegistry()
	tools.RegisterAll(registry, tools.Deps{
		Client:      client,
		Cache:       rt.cache,
		Logger:      rt.logger,
		ObjectLimit: cfg.Agent.MaxObjects,
		FieldLimit:  cfg.Agent.MaxFieldsPerObject,
	})

	executor := agent.NewExecutor(provider, registry, respparse.New(), &agent.ExecutorConfig{
		MaxSteps:     cfg.Agent.MaxSteps,
		TaskTimeout:  cfg.Agent.TaskTimeout(),
		LLMTimeout:   cfg.Agent.LLMTimeout(),
		MaxTokens:    cfg.LLM.MaxTokens,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		PromptPreset: agent.PromptPreset(cfg.Agent.PromptPreset),
		ObjectLimit:  cfg.Agent.MaxObjects,
		FieldLimit:   cfg.Agent.MaxFieldsPerObject,
		QueryLimit:   cfg.Agent.QueryDefaultLimit,
	}, rt.logger, metrics, tracer)

	store, locker, err := rt.buildCheckpoint()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.orchestrator = orchestrator.New(executor, store, locker, orchestrator.Config{
		ConfidenceThreshold: cfg.Agent.HighConfidenceThreshold,
		MaxSteps:            cfg.Agent.MaxSteps,
	}, rt.logger)
	return rt, nil
}

// Close releases runtime resources in reverse acquisition order.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "groq":
		provider, err := providers.NewGroqProvider(providers.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.Agent.LLMTimeout(),
		}), nil
	case "anthropic":
		provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func buildCRMClient(cfg *config.Config) (crm.Client, error) {
	connections := crm.StaticConnections{}
	for id, conn := range cfg.CRM.Connections {
		connections[id] = crm.ConnectionParams{
			InstanceURL: conn.InstanceURL,
			AccessToken: conn.AccessToken,
			APIVersion:  conn.APIVersion,
			OrgID:       conn.OrgID,
		}
	}
	client, err := crm.NewRESTClient(crm.RESTConfig{
		Connections: connections,
		Timeout:     cfg.CRM.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (rt *runtime) buildCacheStore() (metacache.Store, error) {
	switch rt.cfg.Cache.Backend {
	case "sqlite":
		store, err := metacache.NewSQLiteStore(rt.cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		return store, nil
	case "postgres":
		store, err := metacache.NewPostgresStore(rt.cfg.Checkpoint.PostgresURL, nil)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		return store, nil
	default:
		return metacache.NewMemoryStore(), nil
	}
}

func (rt *runtime) buildCheckpoint() (checkpoint.Store, checkpoint.Locker, error) {
	cfg := rt.cfg
	switch cfg.Checkpoint.Backend {
	case "sqlite":
		store, err := checkpoint.NewSQLiteStore(cfg.Checkpoint.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		return store, checkpoint.NewLocalLocker(cfg.Checkpoint.LockTimeout()), nil
	case "postgres":
		store, err := checkpoint.NewPostgresStore(cfg.Checkpoint.PostgresURL, checkpoint.PostgresConfig{})
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })
		locker, err := checkpoint.NewDBLocker(store.DB(), checkpoint.DBLockerConfig{
			OwnerID:        uuid.NewString(),
			AcquireTimeout: cfg.Checkpoint.LockTimeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, locker, nil
	default:
		return checkpoint.NewMemoryStore(), checkpoint.NewLocalLocker(cfg.Checkpoint.LockTimeout()), nil
	}
}
