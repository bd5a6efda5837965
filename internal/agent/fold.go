package agent

import (
	"encoding/json"

	"github.com/relaypoint/crmagent/pkg/models"
)

// soqlToolName matches the registered name of the query tool. Folding keys
// off the tool name recorded in client_results.
const soqlToolName = "execute_soql_query"

// FoldClientRecords reconstitutes query records into a data_query response.
// The model only ever saw the redacted envelope; the full records live in
// client_results and are folded back here before the response reaches the
// client. Non-data_query responses are returned untouched.
func FoldClientRecords(resp *models.StructuredResponse, results []models.ClientResult) {
	if resp == nil || resp.ResponseType != models.ResponseDataQuery {
		return
	}

	// The last query result wins when the turn ran several queries. Records
	// decode into the generic JSON shape so data_summary stays homogeneous.
	var records []any
	for _, cr := range results {
		if cr.ToolName != soqlToolName || len(cr.Value) == 0 {
			continue
		}
		var payload struct {
			Records []any `json:"records"`
		}
		if err := json.Unmarshal(cr.Value, &payload); err != nil {
			continue
		}
		if payload.Records != nil {
			records = payload.Records
		}
	}
	if records == nil {
		return
	}

	if resp.DataSummary == nil {
		resp.DataSummary = map[string]any{}
	}
	resp.DataSummary["records"] = records
	delete(resp.DataSummary, "records_count")
}
