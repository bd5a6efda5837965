package models

// ConversationSummary is the compact record carried between turns. It is the
// only inter-turn memory: turn transcripts are discarded, and the next turn's
// system prompt is seeded from this structure.
type ConversationSummary struct {
	ObjectResolution ObjectResolution `json:"object_resolution"`
	FieldDiscoveries []FieldDiscovery `json:"field_discoveries,omitempty"`
	TechnicalContext TechnicalContext `json:"technical_context"`
}

// ObjectResolution tracks which CRM objects the conversation has resolved so
// far, and how user vocabulary maps onto canonical API names.
type ObjectResolution struct {
	APINames            []string           `json:"api_names,omitempty"`
	LabelMappings       map[string]string  `json:"label_mappings,omitempty"`
	ChildRelationships  []RelationshipNote `json:"child_relationships,omitempty"`
	LookupRelationships []RelationshipNote `json:"lookup_relationships,omitempty"`
}

// RelationshipNote records one discovered relationship edge.
type RelationshipNote struct {
	Object  string `json:"object"`
	Name    string `json:"name"`
	Related string `json:"related"`
}

// FieldDiscovery records a field the conversation has already looked up.
type FieldDiscovery struct {
	Object   string `json:"object"`
	Field    string `json:"field"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// TechnicalContext keeps query history useful for follow-up turns.
type TechnicalContext struct {
	SuccessfulQueries []string `json:"successful_queries,omitempty"`
}

// Clone returns a deep copy of the summary.
func (s *ConversationSummary) Clone() *ConversationSummary {
	if s == nil {
		return nil
	}
	out := *s
	if s.ObjectResolution.APINames != nil {
		out.ObjectResolution.APINames = append([]string(nil), s.ObjectResolution.APINames...)
	}
	if s.ObjectResolution.LabelMappings != nil {
		out.ObjectResolution.LabelMappings = make(map[string]string, len(s.ObjectResolution.LabelMappings))
		for k, v := range s.ObjectResolution.LabelMappings {
			out.ObjectResolution.LabelMappings[k] = v
		}
	}
	if s.ObjectResolution.ChildRelationships != nil {
		out.ObjectResolution.ChildRelationships = append([]RelationshipNote(nil), s.ObjectResolution.ChildRelationships...)
	}
	if s.ObjectResolution.LookupRelationships != nil {
		out.ObjectResolution.LookupRelationships = append([]RelationshipNote(nil), s.ObjectResolution.LookupRelationships...)
	}
	if s.FieldDiscoveries != nil {
		out.FieldDiscoveries = append([]FieldDiscovery(nil), s.FieldDiscoveries...)
	}
	if s.TechnicalContext.SuccessfulQueries != nil {
		out.TechnicalContext.SuccessfulQueries = append([]string(nil), s.TechnicalContext.SuccessfulQueries...)
	}
	return &out
}

// Empty reports whether the summary carries no usable context.
func (s *ConversationSummary) Empty() bool {
	if s == nil {
		return true
	}
	return len(s.ObjectResolution.APINames) == 0 &&
		len(s.ObjectResolution.LabelMappings) == 0 &&
		len(s.ObjectResolution.ChildRelationships) == 0 &&
		len(s.ObjectResolution.LookupRelationships) == 0 &&
		len(s.FieldDiscoveries) == 0 &&
		len(s.TechnicalContext.SuccessfulQueries) == 0
}
