package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaypoint/crmagent/pkg/models"
)

// PromptPreset selects which system prompt template a turn uses. The two
// presets carry the same rules at different verbosity; a turn uses exactly
// one.
type PromptPreset string

const (
	PromptVerbose   PromptPreset = "verbose"
	PromptOptimized PromptPreset = "optimized"
)

// PromptParams are the inputs the system prompt template interpolates. The
// prompt is a pure function of these values.
type PromptParams struct {
	ConfidenceThreshold float64
	ConnectionID        string
	ObjectLimit         int
	FieldLimit          int
	QueryLimit          int
	Summary             *models.ConversationSummary
}

const optimizedTemplate = `You are a CRM data assistant. You answer questions about the org's objects, fields, relationships, and records using the provided tools.

Rules:
1. Classify the request into exactly one response_type: metadata_query, data_query, relationship_query, field_details_query, or clarification_needed.
2. Resolve object names with search_for_sobjects BEFORE describing or querying. Call search ONCE per set of unknown terms.
3. Never fabricate field names. Use only fields returned by metadata tools.
4. Every SOQL query must include a LIMIT clause. Default LIMIT %d, never more than %d.
5. At most %d objects and %d fields per object are returned; narrow with filters when results are capped.
6. When confident the request maps to a known object, proceed. Report your confidence in [0,1]; the confidence threshold is %.2f. Ask for clarification only when genuinely ambiguous.
7. Your final reply must be a single complete JSON object matching the structured response schema. No prose outside the JSON.

Connection: %s`

const verboseTemplate = `You are an expert CRM assistant with deep knowledge of object metadata, field schemas, relationships, and SOQL. Your job is to understand what the user wants, gather the metadata needed to answer precisely, and reply with one structured JSON object.

How to work:
- First decide the response_type. Exactly one of: metadata_query (questions about objects), data_query (questions answered by records), relationship_query (how objects connect), field_details_query (details of specific fields), clarification_needed (the request is too ambiguous to act on).
- User vocabulary rarely matches API names. Use search_for_sobjects to map user terms to canonical object names before calling describe or query tools. Batch all unknown terms into ONE search call.
- Never invent field names. Only reference fields that a metadata tool returned in this conversation.
- When you query records, always add an explicit LIMIT. Use LIMIT %d unless the user asks for more, and never exceed LIMIT %d.
- Listings are capped at %d objects and %d fields per object. If results are truncated, refine with name filters or pagination rather than guessing.
- Report a confidence score in [0,1] for your object resolution. The configured threshold is %.2f: at or above it proceed directly, just below it proceed but mention your assumption, well below it ask for clarification instead of guessing.
- Your final message must be exactly one complete JSON object conforming to the structured response schema, with no surrounding text, no code fences, and no commentary.

Connection: %s`

// BuildSystemPrompt renders the system prompt for a preset. Unknown presets
// fall back to the optimized template.
func BuildSystemPrompt(preset PromptPreset, p PromptParams) string {
	if p.QueryLimit <= 0 {
		p.QueryLimit = 5
	}
	if p.ObjectLimit <= 0 {
		p.ObjectLimit = 200
	}
	if p.FieldLimit <= 0 {
		p.FieldLimit = 100
	}

	tmpl := optimizedTemplate
	if preset == PromptVerbose {
		tmpl = verboseTemplate
	}
	prompt := fmt.Sprintf(tmpl,
		p.QueryLimit, maxQueryLimit,
		p.ObjectLimit, p.FieldLimit,
		p.ConfidenceThreshold,
		p.ConnectionID,
	)

	if ctx := renderSummary(p.Summary); ctx != "" {
		prompt += "\n\nKnown from earlier turns:\n" + ctx
	}
	return prompt
}

// maxQueryLimit is the hard cap on LIMIT clauses the prompt allows.
const maxQueryLimit = 10

// renderSummary flattens the conversation summary into prompt lines. Empty
// summaries render as "".
func renderSummary(s *models.ConversationSummary) string {
	if s == nil || s.Empty() {
		return ""
	}
	var b strings.Builder

	if len(s.ObjectResolution.APINames) > 0 {
		fmt.Fprintf(&b, "- Resolved objects: %s\n", strings.Join(s.ObjectResolution.APINames, ", "))
	}
	if len(s.ObjectResolution.LabelMappings) > 0 {
		pairs := make([]string, 0, len(s.ObjectResolution.LabelMappings))
		for _, term := range sortedKeys(s.ObjectResolution.LabelMappings) {
			pairs = append(pairs, fmt.Sprintf("%q means %s", term, s.ObjectResolution.LabelMappings[term]))
		}
		fmt.Fprintf(&b, "- Term mappings: %s\n", strings.Join(pairs, "; "))
	}
	for _, rel := range s.ObjectResolution.ChildRelationships {
		fmt.Fprintf(&b, "- Child relationship: %s.%s -> %s\n", rel.Object, rel.Name, rel.Related)
	}
	for _, rel := range s.ObjectResolution.LookupRelationships {
		fmt.Fprintf(&b, "- Lookup relationship: %s.%s -> %s\n", rel.Object, rel.Name, rel.Related)
	}
	for _, fd := range s.FieldDiscoveries {
		required := ""
		if fd.Required {
			required = ", required"
		}
		fmt.Fprintf(&b, "- Field: %s.%s (%s%s)\n", fd.Object, fd.Field, fd.Type, required)
	}
	if len(s.TechnicalContext.SuccessfulQueries) > 0 {
		fmt.Fprintf(&b, "- Queries that worked: %s\n", strings.Join(s.TechnicalContext.SuccessfulQueries, " | "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
