// Package metacache caches the CRM object list and per-object descriptions
// per connection with bounded staleness. Reads never consult the CRM; tools
// fall through to the CRM on a miss and write back through Put.
package metacache

import (
	"context"
	"strings"
	"time"

	"github.com/relaypoint/crmagent/internal/crm"
	"github.com/relaypoint/crmagent/internal/observability"
)

// ListEntry is the cached org-wide object list for one connection.
type ListEntry struct {
	ConnectionID string               `json:"connection_id"`
	OrgID        string               `json:"org_id"`
	APIVersion   string               `json:"api_version"`
	CachedAt     time.Time            `json:"cached_at"`
	ExpiresAt    time.Time            `json:"expires_at"`
	TotalCount   int                  `json:"total_count"`
	SObjects     []crm.SObjectSummary `json:"sobjects"`
}

// MetadataEntry is one cached object description. The stored metadata always
// includes child relationships so a single miss serves both read shapes.
type MetadataEntry struct {
	CacheKey            string              `json:"cache_key"`
	ConnectionID        string              `json:"connection_id"`
	OrgID               string              `json:"org_id"`
	SObjectName         string              `json:"sobject_name"`
	CachedAt            time.Time           `json:"cached_at"`
	ExpiresAt           time.Time           `json:"expires_at"`
	FieldCount          int                 `json:"field_count"`
	HasPicklistValues   bool                `json:"has_picklist_values"`
	HasCalculatedFields bool                `json:"has_calculated_fields"`
	Metadata            crm.SObjectDescribe `json:"metadata"`
}

// MetadataKey builds the metadata cache key for a (connection, object) pair.
func MetadataKey(connectionID, sobjectName string) string {
	return connectionID + "|" + sobjectName
}

// Store is the durable backend behind the cache. Implementations report
// absence as (nil, nil); expiry is the cache's concern, not the store's.
type Store interface {
	GetList(ctx context.Context, connectionID string) (*ListEntry, error)
	PutList(ctx context.Context, entry *ListEntry) error
	GetMetadata(ctx context.Context, cacheKey string) (*MetadataEntry, error)
	PutMetadata(ctx context.Context, entry *MetadataEntry) error
	DeleteConnection(ctx context.Context, connectionID string) error
	DeleteExpired(ctx context.Context, now time.Time) (lists int, metadata int, err error)
}

// Config holds cache TTLs.
type Config struct {
	ListTTL     time.Duration
	MetadataTTL time.Duration
}

// Cache implements the metadata cache over a Store.
type Cache struct {
	store   Store
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	nowFunc func() time.Time
}

// New creates a cache. TTLs default to 24h (list) and 6h (metadata).
func New(store Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 24 * time.Hour
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 6 * time.Hour
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Cache{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		nowFunc: time.Now,
	}
}

// SetNowFunc sets a custom time function for testing.
func (c *Cache) SetNowFunc(fn func() time.Time) {
	c.nowFunc = fn
}

// GetObjectList returns the cached object list, or nil when absent or
// expired. Storage errors surface to the caller alongside a nil entry.
func (c *Cache) GetObjectList(ctx context.Context, connectionID string) (*ListEntry, error) {
	entry, err := c.store.GetList(ctx, connectionID)
	if err != nil {
		c.metrics.RecordCacheLookup("list", "error")
		return nil, err
	}
	if entry == nil || !c.nowFunc().Before(entry.ExpiresAt) {
		c.metrics.RecordCacheLookup("list", "miss")
		return nil, nil
	}
	c.metrics.RecordCacheLookup("list", "hit")
	return entry, nil
}

// PutObjectList upserts the object list for a connection.
func (c *Cache) PutObjectList(ctx context.Context, connectionID string, list *crm.SObjectList) error {
	now := c.nowFunc()
	return c.store.PutList(ctx, &ListEntry{
		ConnectionID: connectionID,
		OrgID:        list.OrgID,
		APIVersion:   list.APIVersion,
		CachedAt:     now,
		ExpiresAt:    now.Add(c.cfg.ListTTL),
		TotalCount:   len(list.SObjects),
		SObjects:     list.SObjects,
	})
}

// GetObjectMetadata returns the cached describe for (connection, object), or
// nil when absent or expired. When includeChildRels is false and the entry
// carries child relationships, the result is a copy with them stripped.
func (c *Cache) GetObjectMetadata(ctx context.Context, connectionID, sobjectName string, includeChildRels bool) (*crm.SObjectDescribe, error) {
	entry, err := c.store.GetMetadata(ctx, MetadataKey(connectionID, sobjectName))
	if err != nil {
		c.metrics.RecordCacheLookup("metadata", "error")
		return nil, err
	}
	if entry == nil || !c.nowFunc().Before(entry.ExpiresAt) {
		c.metrics.RecordCacheLookup("metadata", "miss")
		return nil, nil
	}
	c.metrics.RecordCacheLookup("metadata", "hit")

	describe := entry.Metadata.Clone()
	if !includeChildRels {
		describe.ChildRelationships = nil
	}
	return describe, nil
}

// PutObjectMetadata stores the full describe, child relationships included.
func (c *Cache) PutObjectMetadata(ctx context.Context, connectionID, orgID, sobjectName string, describe *crm.SObjectDescribe) error {
	now := c.nowFunc()
	hasPicklists := false
	hasCalculated := false
	for _, f := range describe.Fields {
		if len(f.PicklistValues) > 0 {
			hasPicklists = true
		}
		if f.Calculated {
			hasCalculated = true
		}
	}
	return c.store.PutMetadata(ctx, &MetadataEntry{
		CacheKey:            MetadataKey(connectionID, sobjectName),
		ConnectionID:        connectionID,
		OrgID:               orgID,
		SObjectName:         sobjectName,
		CachedAt:            now,
		ExpiresAt:           now.Add(c.cfg.MetadataTTL),
		FieldCount:          len(describe.Fields),
		HasPicklistValues:   hasPicklists,
		HasCalculatedFields: hasCalculated,
		Metadata:            *describe.Clone(),
	})
}

// ClearConnection deletes the list and all metadata entries for a connection.
func (c *Cache) ClearConnection(ctx context.Context, connectionID string) error {
	if strings.TrimSpace(connectionID) == "" {
		return nil
	}
	return c.store.DeleteConnection(ctx, connectionID)
}

// SweepExpired deletes entries whose expires_at has passed.
func (c *Cache) SweepExpired(ctx context.Context) (lists, metadata int, err error) {
	lists, metadata, err = c.store.DeleteExpired(ctx, c.nowFunc())
	if err != nil {
		return 0, 0, err
	}
	if lists > 0 || metadata > 0 {
		c.logger.Info(ctx, "swept expired cache entries", "lists", lists, "metadata", metadata)
	}
	return lists, metadata, nil
}
