package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/relaypoint/crmagent/pkg/models"
)

// SOQLQueryTool runs a SOQL query against the CRM. The model only sees the
// result envelope and record count; the full records ride to the client
// through the result's ClientValue.
type SOQLQueryTool struct {
	deps Deps
}

func NewSOQLQueryTool(deps Deps) *SOQLQueryTool {
	deps.defaults()
	return &SOQLQueryTool{deps: deps}
}

func (t *SOQLQueryTool) Name() string {
	return "execute_soql_query"
}

func (t *SOQLQueryTool) Description() string {
	return "Execute a SOQL query and return the result envelope. Record contents are delivered to the client, not echoed back here; rely on records_count and the final response to present data."
}

func (t *SOQLQueryTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The SOQL query to execute",
			},
			"connection_id": map[string]any{"type": "string"},
		},
		"required": []string{"query"},
	})
}

type soqlParams struct {
	Query        string `json:"query"`
	ConnectionID string `json:"connection_id"`
}

func (t *SOQLQueryTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p soqlParams
	if err := json.Unmarshal(params, &p); err != nil {
		return models.ErrorResult("tool", "invalid parameters: "+err.Error()), nil
	}
	if strings.TrimSpace(p.Query) == "" {
		return models.ErrorResult("tool", "query is required"), nil
	}
	connectionID, err := resolveConnectionID(ctx, p.ConnectionID)
	if err != nil {
		return models.ErrorResult("tool", err.Error()), nil
	}

	result, err := t.deps.Client.Query(ctx, connectionID, p.Query)
	if err != nil {
		return crmError(err), nil
	}

	metadata := map[string]any{
		"total_size": result.TotalSize,
		"done":       result.Done,
	}
	if result.NextRecordsURL != "" {
		metadata["nextRecordsUrl"] = result.NextRecordsURL
	}

	lite, err := json.Marshal(map[string]any{
		"metadata":      metadata,
		"records_count": len(result.Records),
	})
	if err != nil {
		return models.ErrorResult("tool", "encode result: "+err.Error()), nil
	}
	full, err := json.Marshal(map[string]any{
		"metadata":      metadata,
		"records_count": len(result.Records),
		"records":       result.Records,
	})
	if err != nil {
		return models.ErrorResult("tool", "encode result: "+err.Error()), nil
	}

	return &models.ToolResult{
		OK:          true,
		Value:       lite,
		ClientValue: full,
	}, nil
}
