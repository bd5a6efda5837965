// Package respparse extracts the structured response from the model's final
// message. Models wrap JSON in prose, code fences, or emit it truncated; the
// parser tries progressively more tolerant extraction before validating the
// candidate against the response schema.
package respparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaypoint/crmagent/pkg/models"
)

const responseSchema = `{
  "type": "object",
  "properties": {
    "response_type": {
      "type": "string",
      "enum": ["metadata_query", "data_query", "relationship_query", "field_details_query", "clarification_needed"]
    },
    "confidence": {"type": ["number", "null"]},
    "data_summary": {"type": "object"}
  },
  "required": ["response_type"]
}`

var compiledSchema = jsonschema.MustCompileString("structured_response.schema.json", responseSchema)

// ErrNoJSON is returned when no JSON object can be located in the text.
var ErrNoJSON = errors.New("no JSON object found in response text")

// Parser turns final message text into a StructuredResponse. It is stateless
// and safe for concurrent use.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse extracts and validates the structured response. It never panics;
// extraction or validation failures return a nil response and the reason.
func (p *Parser) Parse(text string, _ float64) (*models.StructuredResponse, error) {
	raw, err := extractAndParse(text)
	if err != nil {
		return nil, err
	}

	if err := validate(raw); err != nil {
		return nil, err
	}

	var resp models.StructuredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode structured response: %w", err)
	}
	if resp.DataSummary == nil {
		resp.DataSummary = map[string]any{}
	}
	return &resp, nil
}

// extractAndParse tries candidates in order: the whole text, a fenced block,
// the first balanced object. Each stage is a parse attempt; a candidate that
// fails to parse falls through to the next stage.
func extractAndParse(text string) (json.RawMessage, error) {
	var lastErr error
	found := false
	try := func(candidate string) json.RawMessage {
		raw, err := parseWithRepair(candidate)
		if err != nil {
			lastErr = err
			return nil
		}
		return raw
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		found = true
		if raw := try(trimmed); raw != nil {
			return raw, nil
		}
	}
	if fenced, ok := extractFenced(text); ok {
		found = true
		if raw := try(fenced); raw != nil {
			return raw, nil
		}
	}
	if candidate, ok := extractBalanced(text); ok {
		found = true
		if raw := try(candidate); raw != nil {
			return raw, nil
		}
	}
	if !found {
		return nil, ErrNoJSON
	}
	return nil, lastErr
}

func extractFenced(text string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			// Truncated fence; take the remainder and let repair handle it.
			rest = strings.TrimSpace(rest)
		} else {
			rest = strings.TrimSpace(rest[:end])
		}
		if strings.HasPrefix(rest, "{") {
			return rest, true
		}
	}
	return "", false
}

// extractBalanced scans from the first brace tracking depth, honoring string
// literals and escapes. A truncated object yields the tail for repair.
func extractBalanced(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return text[start:], true
}

// parseWithRepair parses the candidate, attempting truncation repair on
// failure: strip a trailing comma, then close unbalanced brackets and braces.
func parseWithRepair(candidate string) (json.RawMessage, error) {
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	repaired := strings.TrimSpace(candidate)
	repaired = strings.TrimSuffix(repaired, ",")
	for opens, closes := countOutsideStrings(repaired, '[', ']'); closes < opens; closes++ {
		repaired += "]"
	}
	for opens, closes := countOutsideStrings(repaired, '{', '}'); closes < opens; closes++ {
		repaired += "}"
	}
	if json.Valid([]byte(repaired)) {
		return json.RawMessage(repaired), nil
	}
	return nil, fmt.Errorf("response text is not valid JSON after repair")
}

func countOutsideStrings(s string, open, close byte) (opens, closes int) {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			opens++
		case !inString && c == close:
			closes++
		}
	}
	return opens, closes
}

func validate(raw json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := compiledSchema.Validate(decoded); err != nil {
		return fmt.Errorf("structured response invalid: %w", err)
	}
	return nil
}
