package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/relaypoint/crmagent/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name. Missing tools and oversized inputs are
// returned as failed results so the model can recover.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return models.ErrorResult("tool", fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)), nil
	}
	if len(params) > MaxToolParamsSize {
		return models.ErrorResult("tool", fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return models.ErrorResult("tool", "tool not found: "+name), nil
	}
	return tool.Execute(ctx, params)
}

// Specs returns provider-facing specs for all registered tools, sorted by
// name for deterministic prompt construction.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
