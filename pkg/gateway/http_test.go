package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/sessions/wa-1/status", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":"open"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL + "/v1/", Token: "secret"})

	res, err := client.Status(context.Background(), "wa-1")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, res.State)
}

func TestHTTPClientConnect(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantState  State
		wantReauth bool
	}{
		{name: "open", body: `{"state":"open"}`, wantState: StateOpen},
		{name: "connecting", body: `{"state":"connecting"}`, wantState: StateConnecting},
		{name: "reauth", body: `{"state":"closed","reauth_payload":"2@qrcode"}`, wantState: StateClosed, wantReauth: true},
		{name: "unrecognised state", body: `{"state":"sleeping"}`, wantState: StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/sessions/s1/connect", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewHTTPClient(Config{BaseURL: server.URL})

			res, err := client.Connect(context.Background(), "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, res.State)
			assert.Equal(t, tt.wantReauth, res.NeedsReauth())
		})
	}
}

func TestHTTPClientNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(Config{BaseURL: server.URL})

	_, err := client.Connect(context.Background(), "s1")
	require.Error(t, err)

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadGateway, gerr.StatusCode)
	assert.Equal(t, "connect", gerr.Op)
	assert.False(t, IsTimeout(err))
}

func TestHTTPClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPClient(Config{BaseURL: server.URL, StatusTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := client.Status(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.Equal(t, StateUnknown, res.State)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestParseState(t *testing.T) {
	assert.Equal(t, StateOpen, ParseState("open"))
	assert.Equal(t, StateClosed, ParseState("closed"))
	assert.Equal(t, StateUnknown, ParseState(""))
	assert.Equal(t, StateUnknown, ParseState("OPEN"))
}
