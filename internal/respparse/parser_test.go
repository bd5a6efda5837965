package respparse

import (
	"testing"

	"github.com/relaypoint/crmagent/pkg/models"
)

func TestParseDirect(t *testing.T) {
	p := New()
	resp, err := p.Parse(`{"response_type":"data_query","confidence":0.9,"data_summary":{"object_name":"Account"}}`, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ResponseType != models.ResponseDataQuery {
		t.Errorf("response_type = %s", resp.ResponseType)
	}
	if resp.Confidence == nil || *resp.Confidence != 0.9 {
		t.Errorf("confidence = %v", resp.Confidence)
	}
}

func TestParseFencedBlock(t *testing.T) {
	p := New()
	text := "Here is the answer:\n```json\n{\"response_type\":\"metadata_query\",\"confidence\":null,\"data_summary\":{}}\n```\nDone."
	resp, err := p.Parse(text, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ResponseType != models.ResponseMetadataQuery {
		t.Errorf("response_type = %s", resp.ResponseType)
	}
	if resp.Confidence != nil {
		t.Errorf("confidence = %v, want nil", resp.Confidence)
	}
}

func TestParseBalancedExtraction(t *testing.T) {
	p := New()
	text := `The result is {"response_type":"relationship_query","confidence":0.8,"data_summary":{"object_name":["Account","Contact"]}} as requested.`
	resp, err := p.Parse(text, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ResponseType != models.ResponseRelationshipQuery {
		t.Errorf("response_type = %s", resp.ResponseType)
	}
}

func TestParseLeadingObjectWithTrailingProse(t *testing.T) {
	p := New()
	text := "{\"response_type\":\"metadata_query\",\"confidence\":0.9,\"data_summary\":{\"object_name\":\"Account\"}}\n\nLet me know if you need more detail."
	resp, err := p.Parse(text, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ResponseType != models.ResponseMetadataQuery {
		t.Errorf("response_type = %s", resp.ResponseType)
	}
	if resp.DataSummary["object_name"] != "Account" {
		t.Errorf("data_summary = %v", resp.DataSummary)
	}
}

func TestParseBracesInStrings(t *testing.T) {
	p := New()
	text := `Answer: {"response_type":"data_query","confidence":0.8,"intent_understood":"count } accounts {","data_summary":{}}`
	resp, err := p.Parse(text, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.IntentUnderstood != "count } accounts {" {
		t.Errorf("intent = %q", resp.IntentUnderstood)
	}
}

func TestParseTruncationRepair(t *testing.T) {
	p := New()
	// Output cut off mid-stream: missing closers and trailing comma.
	text := `{"response_type":"data_query","confidence":0.8,"data_summary":{"records":[{"Id":"001"},`
	resp, err := p.Parse(text, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ResponseType != models.ResponseDataQuery {
		t.Errorf("response_type = %s", resp.ResponseType)
	}
}

func TestParseRejectsUnknownResponseType(t *testing.T) {
	p := New()
	if _, err := p.Parse(`{"response_type":"bogus","data_summary":{}}`, 0.7); err == nil {
		t.Error("expected schema validation failure")
	}
}

func TestParseRejectsNonObjectDataSummary(t *testing.T) {
	p := New()
	if _, err := p.Parse(`{"response_type":"data_query","data_summary":"not an object"}`, 0.7); err == nil {
		t.Error("expected schema validation failure")
	}
}

func TestParsePlainTextFails(t *testing.T) {
	p := New()
	resp, err := p.Parse("Just a plain sentence with no JSON at all.", 0.7)
	if err == nil {
		t.Error("expected ErrNoJSON")
	}
	if resp != nil {
		t.Error("response should be nil on failure")
	}
}

func TestParseClarification(t *testing.T) {
	p := New()
	text := `{"response_type":"clarification_needed","confidence":0.4,"data_summary":{},"clarification":{"type":"object_ambiguity","question":"Which object?","options":["Account","Contact"]}}`
	resp, err := p.Parse(text, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Clarification == nil || len(resp.Clarification.Options) != 2 {
		t.Errorf("clarification = %+v", resp.Clarification)
	}
}
