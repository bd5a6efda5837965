package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/relaypoint/crmagent/pkg/models"
)

// SearchSObjectsTool resolves user vocabulary to canonical object names by
// matching search terms against the org's object list.
type SearchSObjectsTool struct {
	deps Deps
}

func NewSearchSObjectsTool(deps Deps) *SearchSObjectsTool {
	deps.defaults()
	return &SearchSObjectsTool{deps: deps}
}

func (t *SearchSObjectsTool) Name() string {
	return "search_for_sobjects"
}

func (t *SearchSObjectsTool) Description() string {
	return "Search the org's object list for objects whose name or label matches any of the given terms. Use this first to resolve user vocabulary to canonical object API names."
}

func (t *SearchSObjectsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search_terms": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Terms to match against object names and labels (case-insensitive)",
			},
			"connection_id": map[string]any{
				"type":        "string",
				"description": "CRM connection identifier",
			},
		},
		"required": []string{"search_terms"},
	})
}

type searchParams struct {
	SearchTerms  []string `json:"search_terms"`
	ConnectionID string   `json:"connection_id"`
}

func (t *SearchSObjectsTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return models.ErrorResult("tool", "invalid parameters: "+err.Error()), nil
	}
	connectionID, err := resolveConnectionID(ctx, p.ConnectionID)
	if err != nil {
		return models.ErrorResult("tool", err.Error()), nil
	}

	list, err := t.deps.loadObjectList(ctx, connectionID)
	if err != nil {
		return crmError(err), nil
	}

	terms := make([]string, 0, len(p.SearchTerms))
	for _, term := range p.SearchTerms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			terms = append(terms, term)
		}
	}

	type match struct {
		name  string
		label string
		exact bool
	}
	seen := map[string]bool{}
	var matches []match
	for _, obj := range list.SObjects {
		name := strings.ToLower(obj.Name)
		label := strings.ToLower(obj.Label)
		for _, term := range terms {
			if !strings.Contains(name, term) && !strings.Contains(label, term) {
				continue
			}
			if seen[obj.Name] {
				break
			}
			seen[obj.Name] = true
			matches = append(matches, match{
				name:  obj.Name,
				label: obj.Label,
				exact: exactNameMatch(name, terms),
			})
			break
		}
	}

	// Exact name matches surface first, then lexicographic by name.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].exact != matches[j].exact {
			return matches[i].exact
		}
		return matches[i].name < matches[j].name
	})

	totalFound := len(matches)
	limit := t.deps.ObjectLimit
	hasMore := totalFound > limit
	if hasMore {
		matches = matches[:limit]
	}

	out := map[string]any{}
	for _, m := range matches {
		out[m.name] = map[string]any{"name": m.name, "label": m.label}
	}
	var nextOffset any
	if hasMore {
		nextOffset = limit
	}
	termsUsed := p.SearchTerms
	if termsUsed == nil {
		termsUsed = []string{}
	}
	out["_search_metadata"] = map[string]any{
		"search_terms_used":   termsUsed,
		"total_objects_found": totalFound,
		"objects_returned":    len(matches),
		"pagination": map[string]any{
			"total_count": totalFound,
			"offset":      0,
			"limit":       limit,
			"has_more":    hasMore,
			"next_offset": nextOffset,
		},
	}
	return models.OKResult(out), nil
}

func exactNameMatch(lowerName string, terms []string) bool {
	for _, term := range terms {
		if lowerName == term {
			return true
		}
	}
	return false
}
