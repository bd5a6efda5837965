package models

import (
	"encoding/json"
	"fmt"
)

// ResponseType classifies the final answer the model produces for a turn.
type ResponseType string

const (
	ResponseMetadataQuery      ResponseType = "metadata_query"
	ResponseDataQuery          ResponseType = "data_query"
	ResponseRelationshipQuery  ResponseType = "relationship_query"
	ResponseFieldDetailsQuery  ResponseType = "field_details_query"
	ResponseClarificationNeeded ResponseType = "clarification_needed"
)

// ResponseTypes lists every valid response type, in schema order.
var ResponseTypes = []ResponseType{
	ResponseMetadataQuery,
	ResponseDataQuery,
	ResponseRelationshipQuery,
	ResponseFieldDetailsQuery,
	ResponseClarificationNeeded,
}

// ValidResponseType reports whether t is one of the five contract literals.
func ValidResponseType(t ResponseType) bool {
	for _, v := range ResponseTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Confidence labels derived from the numeric confidence and the configured
// threshold.
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceLow     = "low"
	ConfidenceUnknown = "unknown"
)

// StructuredResponse is the JSON contract the model must emit as its final
// message for a turn. The data_summary shape is determined by response_type;
// use Summary to decode it into its typed variant.
type StructuredResponse struct {
	ResponseType     ResponseType   `json:"response_type"`
	Confidence       *float64       `json:"confidence"`
	ConfidenceLabel  string         `json:"confidence_label,omitempty"`
	IntentUnderstood string         `json:"intent_understood"`
	ActionsTaken     []string       `json:"actions_taken"`
	DataSummary      map[string]any `json:"data_summary"`
	Suggestions      []string       `json:"suggestions"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CandidateObjects []string       `json:"candidate_objects,omitempty"`
	Clarification    *Clarification `json:"clarification,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Clarification asks the user to disambiguate before the agent proceeds.
type Clarification struct {
	Type           string   `json:"type"`
	Question       string   `json:"question"`
	Options        []string `json:"options,omitempty"`
	DetectedObject string   `json:"detected_object,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

// Summary is the discriminated union behind data_summary.
type Summary interface {
	summaryType() ResponseType
}

// MetadataSummary is the data_summary payload for metadata_query responses.
type MetadataSummary struct {
	ObjectName  any              `json:"object_name"` // string or []string
	TotalFields int              `json:"total_fields"`
	FieldsShown int              `json:"fields_shown"`
	Pagination  *FieldPagination `json:"pagination,omitempty"`
	Fields      []map[string]any `json:"fields"`
}

// FieldPagination describes the window of fields included in a metadata
// response.
type FieldPagination struct {
	CurrentBatch int  `json:"current_batch"`
	FieldOffset  int  `json:"field_offset"`
	FieldLimit   int  `json:"field_limit"`
	HasMore      bool `json:"has_more"`
}

// DataQuerySummary is the data_summary payload for data_query responses.
// RecordsCount is replaced by Records after the client-side fold.
type DataQuerySummary struct {
	ObjectName    string           `json:"object_name"`
	TotalSize     int              `json:"total_size"`
	RecordsCount  *int             `json:"records_count,omitempty"`
	QueryExecuted string           `json:"query_executed"`
	Records       []map[string]any `json:"records,omitempty"`
}

// RelationshipSummary is the data_summary payload for relationship_query
// responses.
type RelationshipSummary struct {
	ObjectName          any              `json:"object_name"`
	ChildRelationships  []map[string]any `json:"child_relationships"`
	LookupRelationships []map[string]any `json:"lookup_relationships"`
}

// FieldDetailsSummary carries either a single field object or, for
// multi-field answers, the metadata_query shape.
type FieldDetailsSummary struct {
	Raw map[string]any `json:"-"`
}

// ClarificationSummary is the (empty) data_summary for clarification_needed.
type ClarificationSummary struct{}

func (MetadataSummary) summaryType() ResponseType      { return ResponseMetadataQuery }
func (DataQuerySummary) summaryType() ResponseType     { return ResponseDataQuery }
func (RelationshipSummary) summaryType() ResponseType  { return ResponseRelationshipQuery }
func (FieldDetailsSummary) summaryType() ResponseType  { return ResponseFieldDetailsQuery }
func (ClarificationSummary) summaryType() ResponseType { return ResponseClarificationNeeded }

// Summary decodes data_summary into the variant selected by response_type.
func (r *StructuredResponse) Summary() (Summary, error) {
	raw, err := json.Marshal(r.DataSummary)
	if err != nil {
		return nil, fmt.Errorf("encode data_summary: %w", err)
	}
	switch r.ResponseType {
	case ResponseMetadataQuery:
		var s MetadataSummary
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode metadata summary: %w", err)
		}
		return s, nil
	case ResponseDataQuery:
		var s DataQuerySummary
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode data summary: %w", err)
		}
		return s, nil
	case ResponseRelationshipQuery:
		var s RelationshipSummary
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode relationship summary: %w", err)
		}
		return s, nil
	case ResponseFieldDetailsQuery:
		return FieldDetailsSummary{Raw: r.DataSummary}, nil
	case ResponseClarificationNeeded:
		return ClarificationSummary{}, nil
	default:
		return nil, fmt.Errorf("unknown response_type %q", r.ResponseType)
	}
}
