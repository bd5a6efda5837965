package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testConnections(instanceURL string) StaticConnections {
	return StaticConnections{
		"conn1": {
			InstanceURL: instanceURL,
			AccessToken: "token-1",
			APIVersion:  "v59.0",
			OrgID:       "00D000000000001",
		},
	}
}

func TestQuerySendsAuthAndQueryParam(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/services/data/v59.0/query" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "SELECT Id FROM Account" {
			t.Errorf("q = %q", got)
		}
		fmt.Fprint(w, `{"totalSize":2,"done":true,"records":[{"Id":"001A"},{"Id":"001B"}]}`)
	}))
	defer server.Close()

	client, err := NewRESTClient(RESTConfig{Connections: testConnections(server.URL)})
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Query(context.Background(), "conn1", "SELECT Id FROM Account")
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalSize != 2 || !result.Done || len(result.Records) != 2 {
		t.Errorf("result = %+v", result)
	}
}

func TestQueryMoreUsesNextRecordsURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/data/v59.0/query/01gXX-2000" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"totalSize":2500,"done":true,"records":[{"Id":"001C"}]}`)
	}))
	defer server.Close()

	client, err := NewRESTClient(RESTConfig{Connections: testConnections(server.URL)})
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.QueryMore(context.Background(), "conn1", "/services/data/v59.0/query/01gXX-2000")
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalSize != 2500 {
		t.Errorf("TotalSize = %d", result.TotalSize)
	}
}

func TestErrorDecodedFromArrayBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `[{"errorCode":"MALFORMED_QUERY","message":"unexpected token"}]`)
	}))
	defer server.Close()

	client, err := NewRESTClient(RESTConfig{Connections: testConnections(server.URL)})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Query(context.Background(), "conn1", "SELECT bogus")
	var crmErr *Error
	if !errors.As(err, &crmErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if crmErr.Code != "MALFORMED_QUERY" || crmErr.Status != http.StatusBadRequest {
		t.Errorf("error = %+v", crmErr)
	}
}

type fakeRefresher struct {
	calls       atomic.Int32
	instanceURL string
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (*ConnectionParams, error) {
	f.calls.Add(1)
	return &ConnectionParams{
		InstanceURL: f.instanceURL,
		AccessToken: "token-2",
		APIVersion:  "v59.0",
	}, nil
}

func TestExpiredSessionRefreshedAndRetriedOnce(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `[{"errorCode":"INVALID_SESSION_ID","message":"Session expired"}]`)
			return
		}
		fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{"Id":"001A"}]}`)
	}))
	defer server.Close()

	refresher := &fakeRefresher{instanceURL: server.URL}
	client, err := NewRESTClient(RESTConfig{
		Connections: testConnections(server.URL),
		Refresher:   refresher,
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.Query(context.Background(), "conn1", "SELECT Id FROM Account")
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalSize != 1 {
		t.Errorf("TotalSize = %d", result.TotalSize)
	}
	if got := refresher.calls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestAuthFailureWithoutRefresherSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `[{"errorCode":"INVALID_SESSION_ID","message":"Session expired"}]`)
	}))
	defer server.Close()

	client, err := NewRESTClient(RESTConfig{Connections: testConnections(server.URL)})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Query(context.Background(), "conn1", "SELECT Id FROM Account")
	var crmErr *Error
	if !errors.As(err, &crmErr) || crmErr.Code != "INVALID_SESSION_ID" {
		t.Fatalf("err = %v, want INVALID_SESSION_ID", err)
	}
}

func TestUpdateRecordSendsPatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q", r.Method)
		}
		if r.URL.Path != "/services/data/v59.0/sobjects/Account/001A" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if fields["Name"] != "Acme Renamed" {
			t.Errorf("fields = %v", fields)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewRESTClient(RESTConfig{Connections: testConnections(server.URL)})
	if err != nil {
		t.Fatal(err)
	}

	err = client.UpdateRecord(context.Background(), "conn1", "Account", "001A", map[string]any{"Name": "Acme Renamed"})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUnknownConnectionRejected(t *testing.T) {
	client, err := NewRESTClient(RESTConfig{Connections: StaticConnections{}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Query(context.Background(), "missing", "SELECT Id FROM Account")
	var crmErr *Error
	if !errors.As(err, &crmErr) || crmErr.Code != "unknown_connection" {
		t.Fatalf("err = %v, want unknown_connection", err)
	}
}
