package crm

import "context"

// Client is the authenticated RPC surface the tools depend on. One logical
// client serves all connections; implementations key their transport and
// session state by connection id.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// ListSObjects returns the org's object list for a connection.
	ListSObjects(ctx context.Context, connectionID string) (*SObjectList, error)

	// DescribeSObject returns the full description of one object, including
	// child relationships.
	DescribeSObject(ctx context.Context, connectionID, name string) (*SObjectDescribe, error)

	// Query runs a SOQL query and returns the first result page.
	Query(ctx context.Context, connectionID, soql string) (*QueryResult, error)

	// QueryMore continues a query from a previous page's nextRecordsUrl.
	QueryMore(ctx context.Context, connectionID, nextRecordsURL string) (*QueryResult, error)

	// UpdateRecord applies field updates to one record.
	UpdateRecord(ctx context.Context, connectionID, sobject, recordID string, fields map[string]any) error

	// ExecuteScript runs an anonymous script on the CRM.
	ExecuteScript(ctx context.Context, connectionID, script string) (*ScriptResult, error)
}

// ConnectionParams are the decrypted parameters for one connection, as
// returned by the external credential service.
type ConnectionParams struct {
	InstanceURL string
	AccessToken string
	APIVersion  string
	OrgID       string
}

// ConnectionSource resolves a connection id into usable parameters. The
// credential/encryption service behind it is an external collaborator.
type ConnectionSource interface {
	Connection(ctx context.Context, connectionID string) (*ConnectionParams, error)
}

// TokenRefresher renews an expired access token for a connection. Optional;
// clients without one surface auth failures directly.
type TokenRefresher interface {
	Refresh(ctx context.Context, connectionID string) (*ConnectionParams, error)
}

// StaticConnections is a ConnectionSource backed by a fixed map, used by the
// CLI where connection parameters come from configuration.
type StaticConnections map[string]ConnectionParams

// Connection implements ConnectionSource.
func (s StaticConnections) Connection(_ context.Context, connectionID string) (*ConnectionParams, error) {
	params, ok := s[connectionID]
	if !ok {
		return nil, &Error{Code: "unknown_connection", Message: "unknown connection: " + connectionID}
	}
	return &params, nil
}
