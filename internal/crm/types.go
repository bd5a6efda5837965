// Package crm defines the client surface the orchestration core uses to talk
// to the CRM: object listing, object description, SOQL queries, record
// updates, and anonymous script execution. The HTTP adapter here is a thin
// shim; credential decryption and connection management live outside the core.
package crm

import "encoding/json"

// SObjectSummary is one row of the org-wide object list.
type SObjectSummary struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	LabelPlural string `json:"labelPlural,omitempty"`
	KeyPrefix   string `json:"keyPrefix,omitempty"`
	Custom      bool   `json:"custom"`
	Createable  bool   `json:"createable"`
	Deletable   bool   `json:"deletable"`
	Updateable  bool   `json:"updateable"`
	Queryable   bool   `json:"queryable"`
}

// SObjectList is the result of listing the org's objects.
type SObjectList struct {
	OrgID      string           `json:"org_id"`
	APIVersion string           `json:"api_version"`
	SObjects   []SObjectSummary `json:"sobjects"`
}

// SObjectDescribe is the full description of one object type.
type SObjectDescribe struct {
	Name               string              `json:"name"`
	Label              string              `json:"label"`
	Custom             bool                `json:"custom"`
	Createable         bool                `json:"createable"`
	Deletable          bool                `json:"deletable"`
	Updateable         bool                `json:"updateable"`
	Queryable          bool                `json:"queryable"`
	Fields             []FieldDescribe     `json:"fields"`
	ChildRelationships []ChildRelationship `json:"childRelationships,omitempty"`
}

// Clone returns a deep copy of the describe. Callers that strip child
// relationships must not mutate the cached value.
func (d *SObjectDescribe) Clone() *SObjectDescribe {
	if d == nil {
		return nil
	}
	out := *d
	out.Fields = make([]FieldDescribe, len(d.Fields))
	copy(out.Fields, d.Fields)
	if d.ChildRelationships != nil {
		out.ChildRelationships = make([]ChildRelationship, len(d.ChildRelationships))
		copy(out.ChildRelationships, d.ChildRelationships)
	}
	return &out
}

// FieldDescribe describes a single field of an object.
type FieldDescribe struct {
	Name             string          `json:"name"`
	Label            string          `json:"label"`
	Type             string          `json:"type"`
	Nillable         bool            `json:"nillable"`
	Unique           bool            `json:"unique"`
	Calculated       bool            `json:"calculated"`
	Createable       bool            `json:"createable"`
	Updateable       bool            `json:"updateable"`
	Length           int             `json:"length,omitempty"`
	Precision        int             `json:"precision,omitempty"`
	Scale            int             `json:"scale,omitempty"`
	ReferenceTo      []string        `json:"referenceTo,omitempty"`
	RelationshipName string          `json:"relationshipName,omitempty"`
	Formula          string          `json:"calculatedFormula,omitempty"`
	PicklistValues   []PicklistValue `json:"picklistValues,omitempty"`
}

// PicklistValue is one allowed value of a picklist field.
type PicklistValue struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	ValidFor string `json:"validFor,omitempty"`
	Active   bool   `json:"active"`
}

// ChildRelationship is a child edge in an object's describe.
type ChildRelationship struct {
	RelationshipName string `json:"relationshipName"`
	ChildSObject     string `json:"childSObject"`
	Field            string `json:"field,omitempty"`
}

// QueryResult is the envelope returned by a SOQL query.
type QueryResult struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl,omitempty"`
	Records        []json.RawMessage `json:"records"`
}

// ScriptResult is the outcome of an anonymous script execution.
type ScriptResult struct {
	Compiled bool   `json:"compiled"`
	Success  bool   `json:"success"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"compileProblem,omitempty"`
	Details  string `json:"exceptionMessage,omitempty"`
}
