package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/relaypoint/crmagent/internal/crm"
	"github.com/relaypoint/crmagent/pkg/models"
)

// SObjectMetadataTool returns field-level metadata for a set of objects with
// filtering and pagination, keeping large describes within the model's
// context budget.
type SObjectMetadataTool struct {
	deps Deps
}

func NewSObjectMetadataTool(deps Deps) *SObjectMetadataTool {
	deps.defaults()
	return &SObjectMetadataTool{deps: deps}
}

func (t *SObjectMetadataTool) Name() string {
	return "get_sobject_metadata"
}

func (t *SObjectMetadataTool) Description() string {
	return "Get field metadata for one or more objects. Supports field filters (unique, nillable, updateable, required) and pagination for objects with many fields."
}

func (t *SObjectMetadataTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"object_names": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Canonical object API names",
			},
			"connection_id": map[string]any{"type": "string"},
			"include_picklist_values": map[string]any{
				"type":        "boolean",
				"description": "Include picklist values for picklist fields",
			},
			"include_calculated_fields": map[string]any{
				"type":        "boolean",
				"description": "Include calculated flags and formulas",
			},
			"include_field_properties": map[string]any{
				"type":        "boolean",
				"description": "Include createable/updateable/nillable/unique per field",
			},
			"field_offset": map[string]any{"type": "integer", "minimum": 0},
			"field_limit":  map[string]any{"type": "integer", "minimum": 1},
			"unique":       map[string]any{"type": "boolean"},
			"nillable":     map[string]any{"type": "boolean"},
			"updateable":   map[string]any{"type": "boolean"},
			"required":     map[string]any{"type": "boolean"},
		},
		"required": []string{"object_names"},
	})
}

type metadataParams struct {
	ObjectNames             []string `json:"object_names"`
	ConnectionID            string   `json:"connection_id"`
	IncludePicklistValues   bool     `json:"include_picklist_values"`
	IncludeCalculatedFields bool     `json:"include_calculated_fields"`
	IncludeFieldProperties  bool     `json:"include_field_properties"`
	FieldOffset             int      `json:"field_offset"`
	FieldLimit              int      `json:"field_limit"`
	Unique                  bool     `json:"unique"`
	Nillable                bool     `json:"nillable"`
	Updateable              bool     `json:"updateable"`
	Required                bool     `json:"required"`
}

func (t *SObjectMetadataTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p metadataParams
	if err := json.Unmarshal(params, &p); err != nil {
		return models.ErrorResult("tool", "invalid parameters: "+err.Error()), nil
	}
	if len(p.ObjectNames) == 0 {
		return models.ErrorResult("tool", "object_names is required"), nil
	}
	connectionID, err := resolveConnectionID(ctx, p.ConnectionID)
	if err != nil {
		return models.ErrorResult("tool", err.Error()), nil
	}
	if p.FieldLimit <= 0 {
		p.FieldLimit = t.deps.FieldLimit
	}
	if p.FieldOffset < 0 {
		p.FieldOffset = 0
	}

	results := make([]map[string]any, 0, len(p.ObjectNames))
	for _, name := range p.ObjectNames {
		describe, err := t.deps.loadDescribe(ctx, connectionID, name, false)
		if err != nil {
			return crmError(err), nil
		}
		results = append(results, t.renderObject(describe, p))
	}
	return models.OKResult(map[string]any{"objects": results}), nil
}

func (t *SObjectMetadataTool) renderObject(describe *crm.SObjectDescribe, p metadataParams) map[string]any {
	fields := make([]crm.FieldDescribe, len(describe.Fields))
	copy(fields, describe.Fields)
	sort.Slice(fields, func(i, j int) bool {
		return strings.ToLower(fields[i].Name) < strings.ToLower(fields[j].Name)
	})

	fields = filterFields(fields, p)
	total := len(fields)

	// Pagination window over the filtered set.
	start := p.FieldOffset
	if start > total {
		start = total
	}
	end := start + p.FieldLimit
	if end > total {
		end = total
	}
	page := fields[start:end]

	rendered := make([]map[string]any, 0, len(page))
	for _, f := range page {
		entry := map[string]any{
			"name":     f.Name,
			"label":    f.Label,
			"type":     f.Type,
			"required": !f.Nillable,
		}
		if p.IncludePicklistValues && len(f.PicklistValues) > 0 {
			entry["picklistValues"] = f.PicklistValues
		}
		if p.IncludeCalculatedFields {
			entry["calculated"] = f.Calculated
			if f.Formula != "" {
				entry["formula"] = f.Formula
			}
		}
		if p.IncludeFieldProperties {
			entry["createable"] = f.Createable
			entry["updateable"] = f.Updateable
			entry["nillable"] = f.Nillable
			entry["unique"] = f.Unique
		}
		rendered = append(rendered, entry)
	}

	hasMore := end < total
	var nextOffset any
	if hasMore {
		nextOffset = end
	}
	return map[string]any{
		"object_name":  describe.Name,
		"label":        describe.Label,
		"total_fields": total,
		"fields":       rendered,
		"field_pagination": map[string]any{
			"total_field_count": total,
			"field_offset":      p.FieldOffset,
			"field_limit":       p.FieldLimit,
			"has_more_fields":   hasMore,
			"next_field_offset": nextOffset,
		},
	}
}

// filterFields applies the set filters with AND semantics. A true filter
// requires the property; false filters are no-ops.
func filterFields(fields []crm.FieldDescribe, p metadataParams) []crm.FieldDescribe {
	keep := func(f crm.FieldDescribe) bool {
		if p.Unique && !f.Unique {
			return false
		}
		if p.Nillable && !f.Nillable {
			return false
		}
		if p.Updateable && !f.Updateable {
			return false
		}
		if p.Required && f.Nillable {
			return false
		}
		return true
	}
	out := fields[:0]
	for _, f := range fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
