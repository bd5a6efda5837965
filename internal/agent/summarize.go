package agent

import "github.com/relaypoint/crmagent/pkg/models"

// updateSummary folds the turn's structured response into the conversation
// summary so later turns start from what this one learned.
func (e *Executor) updateSummary(state *WorkflowState) {
	sr := state.StructuredResponse
	if sr == nil {
		return
	}
	if state.Conversation.Summary == nil {
		state.Conversation.Summary = &models.ConversationSummary{}
	}
	summary := state.Conversation.Summary

	decoded, err := sr.Summary()
	if err != nil {
		return
	}
	switch s := decoded.(type) {
	case models.MetadataSummary:
		addObjectNames(summary, s.ObjectName)
	case models.DataQuerySummary:
		if s.ObjectName != "" {
			addAPIName(summary, s.ObjectName)
		}
		if s.QueryExecuted != "" && sr.Error == "" {
			addSuccessfulQuery(summary, s.QueryExecuted)
		}
	case models.RelationshipSummary:
		addObjectNames(summary, s.ObjectName)
		for _, rel := range s.ChildRelationships {
			if note, ok := relationshipNote(s.ObjectName, rel); ok {
				summary.ObjectResolution.ChildRelationships = appendNote(summary.ObjectResolution.ChildRelationships, note)
			}
		}
		for _, rel := range s.LookupRelationships {
			if note, ok := relationshipNote(s.ObjectName, rel); ok {
				summary.ObjectResolution.LookupRelationships = appendNote(summary.ObjectResolution.LookupRelationships, note)
			}
		}
	}
}

// addObjectNames handles the string-or-list shape of object_name.
func addObjectNames(summary *models.ConversationSummary, objectName any) {
	switch v := objectName.(type) {
	case string:
		addAPIName(summary, v)
	case []any:
		for _, item := range v {
			if name, ok := item.(string); ok {
				addAPIName(summary, name)
			}
		}
	}
}

func addAPIName(summary *models.ConversationSummary, name string) {
	if name == "" {
		return
	}
	for _, existing := range summary.ObjectResolution.APINames {
		if existing == name {
			return
		}
	}
	summary.ObjectResolution.APINames = append(summary.ObjectResolution.APINames, name)
}

func addSuccessfulQuery(summary *models.ConversationSummary, query string) {
	for _, existing := range summary.TechnicalContext.SuccessfulQueries {
		if existing == query {
			return
		}
	}
	summary.TechnicalContext.SuccessfulQueries = append(summary.TechnicalContext.SuccessfulQueries, query)
}

// relationshipNote extracts an edge from a relationship map. The relationship
// tool emits {relationship_query_name, child_object_name} for child edges and
// {field_name, reference_to_object_name} for lookups; the remaining keys
// tolerate models paraphrasing the shape.
func relationshipNote(objectName any, rel map[string]any) (models.RelationshipNote, bool) {
	object, _ := objectName.(string)
	name := firstString(rel, "relationship_query_name", "relationship_name", "field_name")
	related := firstString(rel, "child_object_name", "child_sobject", "related_object", "reference_to_object_name")
	if name == "" || related == "" {
		return models.RelationshipNote{}, false
	}
	return models.RelationshipNote{Object: object, Name: name, Related: related}, true
}

// firstString returns the first non-empty string value among keys. A list
// value yields its first string element (reference_to_object_name is a list).
func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func appendNote(notes []models.RelationshipNote, note models.RelationshipNote) []models.RelationshipNote {
	for _, existing := range notes {
		if existing == note {
			return notes
		}
	}
	return append(notes, note)
}
