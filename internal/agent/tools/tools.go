// Package tools implements the fixed set of CRM tools the agent exposes to
// the model: object search, object metadata, relationship discovery, field
// details, and SOQL execution. Tools read shared state through the metadata
// cache and the CRM client; they never touch workflow state.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/internal/crm"
	"github.com/relaypoint/crmagent/internal/metacache"
	"github.com/relaypoint/crmagent/internal/observability"
	"github.com/relaypoint/crmagent/pkg/models"
)

// Deps carries the shared collaborators for all CRM tools.
type Deps struct {
	Client crm.Client
	Cache  *metacache.Cache
	Logger *observability.Logger

	// ObjectLimit caps search results. Defaults to 200.
	ObjectLimit int

	// FieldLimit is the default field page size. Defaults to 100.
	FieldLimit int
}

func (d *Deps) defaults() {
	if d.ObjectLimit <= 0 {
		d.ObjectLimit = 200
	}
	if d.FieldLimit <= 0 {
		d.FieldLimit = 100
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
}

// RegisterAll registers the five CRM tools on the registry.
func RegisterAll(registry *agent.ToolRegistry, deps Deps) {
	deps.defaults()
	registry.Register(NewSearchSObjectsTool(deps))
	registry.Register(NewSObjectMetadataTool(deps))
	registry.Register(NewSObjectRelationshipsTool(deps))
	registry.Register(NewFieldDetailsTool(deps))
	registry.Register(NewSOQLQueryTool(deps))
}

// resolveConnectionID prefers the explicit argument and falls back to the
// id the executor placed on the context.
func resolveConnectionID(ctx context.Context, arg string) (string, error) {
	if strings.TrimSpace(arg) != "" {
		return strings.TrimSpace(arg), nil
	}
	if id := agent.ConnectionIDFromContext(ctx); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("missing connection_id")
}

// loadObjectList returns the connection's object list, consulting the cache
// first. Cache errors degrade to a miss with a logged warning.
func (d Deps) loadObjectList(ctx context.Context, connectionID string) (*metacache.ListEntry, error) {
	entry, err := d.Cache.GetObjectList(ctx, connectionID)
	if err != nil {
		d.Logger.Warn(ctx, "object list cache read failed", "connection_id", connectionID, "error", err)
	}
	if entry != nil {
		return entry, nil
	}

	list, err := d.Client.ListSObjects(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if err := d.Cache.PutObjectList(ctx, connectionID, list); err != nil {
		d.Logger.Warn(ctx, "object list cache write failed", "connection_id", connectionID, "error", err)
	}
	return &metacache.ListEntry{
		ConnectionID: connectionID,
		OrgID:        list.OrgID,
		APIVersion:   list.APIVersion,
		TotalCount:   len(list.SObjects),
		SObjects:     list.SObjects,
	}, nil
}

// loadDescribe returns one object's describe, consulting the cache first.
// The CRM describe is always cached whole so one miss serves both shapes.
func (d Deps) loadDescribe(ctx context.Context, connectionID, objectName string, includeChildRels bool) (*crm.SObjectDescribe, error) {
	describe, err := d.Cache.GetObjectMetadata(ctx, connectionID, objectName, includeChildRels)
	if err != nil {
		d.Logger.Warn(ctx, "metadata cache read failed", "connection_id", connectionID, "object", objectName, "error", err)
	}
	if describe != nil {
		return describe, nil
	}

	full, err := d.Client.DescribeSObject(ctx, connectionID, objectName)
	if err != nil {
		return nil, err
	}
	if err := d.Cache.PutObjectMetadata(ctx, connectionID, "", objectName, full); err != nil {
		d.Logger.Warn(ctx, "metadata cache write failed", "connection_id", connectionID, "object", objectName, "error", err)
	}
	if !includeChildRels && len(full.ChildRelationships) > 0 {
		full = full.Clone()
		full.ChildRelationships = nil
	}
	return full, nil
}

// crmError maps an upstream failure to an error ToolResult, carrying the API
// error code in meta when available.
func crmError(err error) *models.ToolResult {
	result := models.ErrorResult("crm", err.Error())
	var apiErr *crm.Error
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		result.Meta["code"] = apiErr.Code
	}
	return result
}

func mustSchema(schema map[string]any) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
