package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/relaypoint/crmagent/pkg/models"
)

// SObjectRelationshipsTool surfaces lookup and child relationships for a set
// of objects, optionally filtered to relationships within the input set.
type SObjectRelationshipsTool struct {
	deps Deps
}

func NewSObjectRelationshipsTool(deps Deps) *SObjectRelationshipsTool {
	deps.defaults()
	return &SObjectRelationshipsTool{deps: deps}
}

func (t *SObjectRelationshipsTool) Name() string {
	return "get_sobject_relationships"
}

func (t *SObjectRelationshipsTool) Description() string {
	return "Get lookup and child relationships for one or more objects. Use this to plan relationship queries between objects."
}

func (t *SObjectRelationshipsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"object_names": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Canonical object API names",
			},
			"connection_id": map[string]any{"type": "string"},
			"filter_relationships": map[string]any{
				"type":        "boolean",
				"description": "When multiple objects are given, keep only relationships between them (default true)",
			},
		},
		"required": []string{"object_names"},
	})
}

type relationshipsParams struct {
	ObjectNames         []string `json:"object_names"`
	ConnectionID        string   `json:"connection_id"`
	FilterRelationships *bool    `json:"filter_relationships"`
}

func (t *SObjectRelationshipsTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p relationshipsParams
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

	filter := p.FilterRelationships == nil || *p.FilterRelationships
	crossFilter := filter && len(p.ObjectNames) > 1
	inputSet := map[string]bool{}
	for _, name := range p.ObjectNames {
		inputSet[strings.ToLower(name)] = true
	}

	objects := make([]map[string]any, 0, len(p.ObjectNames))
	for _, name := range p.ObjectNames {
		describe, err := t.deps.loadDescribe(ctx, connectionID, name, true)
		if err != nil {
			return crmError(err), nil
		}

		var lookups []map[string]any
		for _, f := range describe.Fields {
			if f.Type != "reference" || len(f.ReferenceTo) == 0 {
				continue
			}
			if crossFilter && !anyInSet(f.ReferenceTo, inputSet) {
				continue
			}
			lookups = append(lookups, map[string]any{
				"field_name":               f.Name,
				"reference_to_object_name": f.ReferenceTo,
			})
		}

		var children []map[string]any
		for _, rel := range describe.ChildRelationships {
			if rel.RelationshipName == "" {
				continue
			}
			if crossFilter && !inputSet[strings.ToLower(rel.ChildSObject)] {
				continue
			}
			children = append(children, map[string]any{
				"relationship_query_name": rel.RelationshipName,
				"child_object_name":       rel.ChildSObject,
			})
		}

		objects = append(objects, map[string]any{
			"object_name":          describe.Name,
			"lookup_relationships": lookups,
			"child_relationships":  children,
		})
	}
	return models.OKResult(map[string]any{"objects": objects}), nil
}

func anyInSet(names []string, set map[string]bool) bool {
	for _, name := range names {
		if set[strings.ToLower(name)] {
			return true
		}
	}
	return false
}
