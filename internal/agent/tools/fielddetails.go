package tools

import (
	"context"
	"encoding/json"

	"github.com/relaypoint/crmagent/pkg/models"
)

// FieldDetailsTool returns the complete descriptor of one field, including
// picklist values, reference targets, and formula text.
type FieldDetailsTool struct {
	deps Deps
}

func NewFieldDetailsTool(deps Deps) *FieldDetailsTool {
	deps.defaults()
	return &FieldDetailsTool{deps: deps}
}

func (t *FieldDetailsTool) Name() string {
	return "get_field_details"
}

func (t *FieldDetailsTool) Description() string {
	return "Get the full descriptor of a single field: type, constraints, picklist values, reference targets, and formula."
}

func (t *FieldDetailsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"object_name":   map[string]any{"type": "string"},
			"field_name":    map[string]any{"type": "string"},
			"connection_id": map[string]any{"type": "string"},
		},
		"required": []string{"object_name", "field_name"},
	})
}

type fieldDetailsParams struct {
	ObjectName   string `json:"object_name"`
	FieldName    string `json:"field_name"`
	ConnectionID string `json:"connection_id"`
}

func (t *FieldDetailsTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p fieldDetailsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return models.ErrorResult("tool", "invalid parameters: "+err.Error()), nil
	}
	if p.ObjectName == "" || p.FieldName == "" {
		return models.ErrorResult("tool", "object_name and field_name are required"), nil
	}
	connectionID, err := resolveConnectionID(ctx, p.ConnectionID)
	if err != nil {
		return models.ErrorResult("tool", err.Error()), nil
	}

	describe, err := t.deps.loadDescribe(ctx, connectionID, p.ObjectName, false)
	if err != nil {
		return crmError(err), nil
	}

	for _, f := range describe.Fields {
		if f.Name != p.FieldName {
			continue
		}
		out := map[string]any{
			"object_name":       describe.Name,
			"field_name":        f.Name,
			"label":             f.Label,
			"type":              f.Type,
			"required":          !f.Nillable,
			"unique":            f.Unique,
			"calculated":        f.Calculated,
			"length":            f.Length,
			"precision":         f.Precision,
			"scale":             f.Scale,
			"reference_to":      f.ReferenceTo,
			"relationship_name": f.RelationshipName,
			"formula":           f.Formula,
			"createable":        f.Createable,
			"updateable":        f.Updateable,
			"nillable":          f.Nillable,
		}
		if len(f.PicklistValues) > 0 {
			values := make([]map[string]any, 0, len(f.PicklistValues))
			for _, pv := range f.PicklistValues {
				entry := map[string]any{"value": pv.Value, "label": pv.Label}
				if pv.ValidFor != "" {
					entry["valid_for"] = pv.ValidFor
				}
				values = append(values, entry)
			}
			out["picklist_values"] = values
		}
		return models.OKResult(out), nil
	}
	return models.ErrorResult("tool", "field not found"), nil
}
