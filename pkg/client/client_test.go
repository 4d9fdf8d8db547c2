package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tether/pkg/api"
	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/types"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody sessions.ProvisionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.Session{ID: "s1", Status: types.SessionStatusAwaitingReauth})
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok")
	s, err := c.ProvisionSession(sessions.ProvisionRequest{TenantID: "tenant-a", Channel: "whatsapp"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/sessions", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "tenant-a", gotBody.TenantID)
	assert.Equal(t, "s1", s.ID)
}

func TestClientDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorBody{Error: api.ErrorDetail{Code: "not_found", Message: "session ghost: not found"}})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").GetSession("ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "not_found")
}

func TestClientPaths(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", "")
	_, _ = c.ConnectSession("a b")
	_, _ = c.DisconnectSession("s1")
	_, _ = c.CompleteReauth("s1")
	_, _ = c.ReportState("s1", sessions.ReportedError)
	_, _ = c.RunReconcile()
	_, _ = c.RunAlerts()

	assert.Equal(t, []string{
		"POST /v1/sessions/a%20b/connect",
		"POST /v1/sessions/s1/disconnect",
		"POST /v1/sessions/s1/reauth-complete",
		"POST /v1/sessions/s1/state",
		"POST /v1/passes/reconcile",
		"POST /v1/passes/alerts",
	}, paths)
}

func TestNewClientAddsScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", NewClient("localhost:8080", "").baseURL)
	assert.Equal(t, "https://tether.internal", NewClient("https://tether.internal/", "").baseURL)
}
