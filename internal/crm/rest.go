package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Error is a structured CRM failure with the upstream error code preserved.
type Error struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("crm: %s: %s", e.Code, e.Message)
	}
	return "crm: " + e.Message
}

// RESTConfig configures the REST adapter.
type RESTConfig struct {
	Connections ConnectionSource
	Refresher   TokenRefresher
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// RESTClient implements Client over the CRM's REST API. A single instance
// serves all connections; a per-connection mutex serializes session refresh
// so concurrent 401s do not trigger duplicate refresh storms.
type RESTClient struct {
	http        *http.Client
	connections ConnectionSource
	refresher   TokenRefresher

	mu        sync.Mutex
	refreshMu map[string]*sync.Mutex
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a REST adapter.
func NewRESTClient(cfg RESTConfig) (*RESTClient, error) {
	if cfg.Connections == nil {
		return nil, fmt.Errorf("connection source is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RESTClient{
		http:        httpClient,
		connections: cfg.Connections,
		refresher:   cfg.Refresher,
		refreshMu:   map[string]*sync.Mutex{},
	}, nil
}

// ListSObjects implements Client.
func (c *RESTClient) ListSObjects(ctx context.Context, connectionID string) (*SObjectList, error) {
	params, err := c.connections.Connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	var body struct {
		SObjects []SObjectSummary `json:"sobjects"`
	}
	if err := c.get(ctx, connectionID, params, c.dataPath(params, "/sobjects"), &body); err != nil {
		return nil, err
	}
	return &SObjectList{
		OrgID:      params.OrgID,
		APIVersion: params.APIVersion,
		SObjects:   body.SObjects,
	}, nil
}

// DescribeSObject implements Client.
func (c *RESTClient) DescribeSObject(ctx context.Context, connectionID, name string) (*SObjectDescribe, error) {
	params, err := c.connections.Connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	var describe SObjectDescribe
	path := c.dataPath(params, "/sobjects/"+url.PathEscape(name)+"/describe")
	if err := c.get(ctx, connectionID, params, path, &describe); err != nil {
		return nil, err
	}
	return &describe, nil
}

// Query implements Client.
func (c *RESTClient) Query(ctx context.Context, connectionID, soql string) (*QueryResult, error) {
	params, err := c.connections.Connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	path := c.dataPath(params, "/query?q="+url.QueryEscape(soql))
	var result QueryResult
	if err := c.get(ctx, connectionID, params, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryMore implements Client.
func (c *RESTClient) QueryMore(ctx context.Context, connectionID, nextRecordsURL string) (*QueryResult, error) {
	params, err := c.connections.Connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	var result QueryResult
	if err := c.get(ctx, connectionID, params, nextRecordsURL, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateRecord implements Client.
func (c *RESTClient) UpdateRecord(ctx context.Context, connectionID, sobject, recordID string, fields map[string]any) error {
	params, err := c.connections.Connection(ctx, connectionID)
	if err != nil {
		return err
	}
	path := c.dataPath(params, "/sobjects/"+url.PathEscape(sobject)+"/"+url.PathEscape(recordID))
	return c.do(ctx, connectionID, params, http.MethodPatch, path, fields, nil)
}

// ExecuteScript implements Client.
func (c *RESTClient) ExecuteScript(ctx context.Context, connectionID, script string) (*ScriptResult, error) {
	params, err := c.connections.Connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/services/data/%s/tooling/executeAnonymous?anonymousBody=%s",
		apiVersion(params), url.QueryEscape(script))
	var result ScriptResult
	if err := c.get(ctx, connectionID, params, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RESTClient) dataPath(params *ConnectionParams, suffix string) string {
	return "/services/data/" + apiVersion(params) + suffix
}

func apiVersion(params *ConnectionParams) string {
	if params.APIVersion != "" {
		return params.APIVersion
	}
	return "v59.0"
}

func (c *RESTClient) get(ctx context.Context, connectionID string, params *ConnectionParams, path string, out any) error {
	return c.do(ctx, connectionID, params, http.MethodGet, path, nil, out)
}

func (c *RESTClient) do(ctx context.Context, connectionID string, params *ConnectionParams, method, path string, payload, out any) error {
	err := c.doOnce(ctx, params, method, path, payload, out)
	if err == nil || c.refresher == nil {
		return err
	}
	var crmErr *Error
	if !errors.As(err, &crmErr) || crmErr.Status != http.StatusUnauthorized {
		return err
	}

	// Expired session. Refresh under the per-connection lock and retry once;
	// a concurrent refresh that already completed is reused.
	refreshed, rerr := c.refreshSession(ctx, connectionID)
	if rerr != nil {
		return err
	}
	return c.doOnce(ctx, refreshed, method, path, payload, out)
}

func (c *RESTClient) refreshSession(ctx context.Context, connectionID string) (*ConnectionParams, error) {
	c.mu.Lock()
	lock, ok := c.refreshMu[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		c.refreshMu[connectionID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return c.refresher.Refresh(ctx, connectionID)
}

func (c *RESTClient) doOnce(ctx context.Context, params *ConnectionParams, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	endpoint := strings.TrimRight(params.InstanceURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+params.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	// The CRM reports errors as a JSON array of {errorCode, message}.
	var multi []Error
	if err := json.Unmarshal(raw, &multi); err == nil && len(multi) > 0 {
		e := multi[0]
		e.Status = resp.StatusCode
		return &e
	}
	return &Error{
		Code:    fmt.Sprintf("http_%d", resp.StatusCode),
		Message: strings.TrimSpace(string(raw)),
		Status:  resp.StatusCode,
	}
}
