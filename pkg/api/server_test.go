package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/tether/pkg/alerting"
	"github.com/cuemby/tether/pkg/clock"
	"github.com/cuemby/tether/pkg/events"
	"github.com/cuemby/tether/pkg/gateway"
	"github.com/cuemby/tether/pkg/gateway/gatewaytest"
	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/reconciler"
	"github.com/cuemby/tether/pkg/sessions"
	"github.com/cuemby/tether/pkg/storage"
	"github.com/cuemby/tether/pkg/types"
)

var now = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store   storage.Store
	gateway *gatewaytest.Fake
	clock   *clock.Fake
	broker  *events.Broker
	handler http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:   store,
		gateway: gatewaytest.New(),
		clock:   clock.NewFake(now),
		broker:  events.NewBroker(),
	}
	f.broker.Start()
	t.Cleanup(f.broker.Stop)

	cfg := reconciler.DefaultConfig()
	cfg.InterSessionDelay = 0
	rec := reconciler.NewReconciler(store, f.gateway, cfg, reconciler.WithClock(f.clock), reconciler.WithEvents(f.broker))
	mon := alerting.NewMonitor(store, alerting.NewLogNotifier(), alerting.DefaultConfig(), alerting.WithClock(f.clock), alerting.WithEvents(f.broker))
	svc := sessions.NewService(store, f.gateway, sessions.WithClock(f.clock), sessions.WithEvents(f.broker))

	f.handler = NewServer(Dependencies{
		Reconciler: rec,
		Alerts:     mon,
		Sessions:   svc,
		Events:     f.broker,
		Token:      token,
	}).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestProbeEndpoints(t *testing.T) {
	f := newFixture(t, "")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "").Code)

	rr := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tether_")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, "")

	rr := f.do(t, http.MethodPost, "/v1/tenants", `{"id":"tenant-a","name":"Acme","contact_email":"ops@acme.test"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/v1/sessions", `{"id":"s1","tenant_id":"tenant-a","channel":"whatsapp"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, types.SessionStatusAwaitingReauth, decode[types.Session](t, rr).Status)

	f.gateway.SetConnect("s1", gateway.ConnectResult{State: gateway.StateClosed, ReauthPayload: "qr"})
	rr = f.do(t, http.MethodPost, "/v1/sessions/s1/connect", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "qr", decode[sessions.ConnectResult](t, rr).ReauthPayload)

	f.gateway.SetStatus("s1", gateway.StateOpen)
	rr = f.do(t, http.MethodPost, "/v1/sessions/s1/reauth-complete", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, types.SessionStatusConnected, decode[types.Session](t, rr).Status)

	rr = f.do(t, http.MethodPost, "/v1/sessions/s1/state", `{"state":"disconnected"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[sessions.ReportResult](t, rr).Applied)

	rr = f.do(t, http.MethodPost, "/v1/sessions/s1/disconnect", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[types.Session](t, rr).ManualDisconnect)

	rr = f.do(t, http.MethodGet, "/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, types.SessionStatusDisconnected, decode[types.Session](t, rr).Status)

	rr = f.do(t, http.MethodGet, "/v1/sessions/s1/episodes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decode[[]types.OutageEpisode](t, rr))
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.store.CreateTenant(context.Background(), &types.Tenant{ID: "tenant-a", Name: "Acme"}))
	require.NoError(t, f.store.CreateSession(context.Background(), &types.Session{
		ID: "live", TenantID: "tenant-a", Status: types.SessionStatusConnected, UpdatedAt: now,
	}))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/v1/sessions/ghost", "", http.StatusNotFound, "not_found"},
		{"reauth on connected", http.MethodPost, "/v1/sessions/live/reauth-complete", "", http.StatusConflict, "invalid_transition"},
		{"unknown reported state", http.MethodPost, "/v1/sessions/live/state", `{"state":"exploded"}`, http.StatusBadRequest, "invalid_argument"},
		{"malformed body", http.MethodPost, "/v1/sessions", `{"tenant_id":`, http.StatusBadRequest, "invalid_body"},
		{"unknown field", http.MethodPost, "/v1/tenants", `{"name":"x","plan":"gold"}`, http.StatusBadRequest, "invalid_body"},
		{"duplicate tenant", http.MethodPost, "/v1/tenants", `{"id":"tenant-a","name":"Acme"}`, http.StatusConflict, "already_exists"},
		{"missing tenant id", http.MethodPost, "/v1/sessions", `{"channel":"whatsapp"}`, http.StatusBadRequest, "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, decode[ErrorBody](t, rr).Error.Code)
		})
	}
}

func TestPassEndpoints(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.store.CreateTenant(ctx, &types.Tenant{ID: "tenant-a", Name: "Acme", ContactEmail: "ops@acme.test"}))
	since := now.Add(-10 * time.Minute)
	require.NoError(t, f.store.CreateSession(ctx, &types.Session{
		ID: "s1", TenantID: "tenant-a", Status: types.SessionStatusDisconnected, DisconnectedSince: &since, UpdatedAt: since,
	}))
	require.NoError(t, f.store.CreateSession(ctx, &types.Session{
		ID: "s2", TenantID: "tenant-a", Status: types.SessionStatusError, DisconnectedSince: &since, UpdatedAt: since,
	}))

	rr := f.do(t, http.MethodPost, "/v1/passes/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
	for _, key := range []string{"checked", "qualified", "successful", "failed", "skipped", "needing_reauth"} {
		assert.Contains(t, raw, key)
	}
	summary := decode[types.ReconcileSummary](t, rr)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Qualified)

	rr = f.do(t, http.MethodPost, "/v1/passes/alerts", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	alerts := decode[types.AlertSummary](t, rr)
	assert.Equal(t, 1, alerts.TenantsNotified)
	assert.Equal(t, 1, alerts.SessionsIncluded)

	rr = f.do(t, http.MethodGet, "/v1/tenants/tenant-a/audit", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]types.AuditEntry](t, rr), 1)
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t, "s3cret")

	rr := f.do(t, http.MethodGet, "/v1/sessions/any", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/any", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "").Code, "probes stay open")
}

func TestProfilesDesignateAdmin(t *testing.T) {
	f := newFixture(t, "")
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/tenants", `{"id":"tenant-a","name":"Acme"}`).Code)

	rr := f.do(t, http.MethodPost, "/v1/tenants/tenant-a/profiles", `{"id":"p1","email":"admin@acme.test","role":"admin","admin":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/v1/tenants/tenant-a", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "p1", decode[types.Tenant](t, rr).AdminProfileID)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "")
	server := httptest.NewServer(f.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events?tenant_id=tenant-a", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	f.broker.Publish(events.SessionEvent(events.EventSessionRecovered, "other", "tenant-b", "filtered"))
	f.broker.Publish(events.SessionEvent(events.EventSessionRecovered, "s1", "tenant-a", "session connected"))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev))
	assert.Equal(t, "s1", ev.Metadata["session_id"])
	assert.Equal(t, events.EventSessionRecovered, ev.Type)
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	metrics.RegisterComponent(metrics.ComponentStore, true, "")
	metrics.RegisterComponent(metrics.ComponentAPI, true, "")

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hs := NewHealthServer(time.Hour)
	go func() { _ = hs.Serve(lis) }()
	defer hs.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	metrics.UpdateComponent(metrics.ComponentStore, false, "disk full")
	hs.Sync()
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	metrics.UpdateComponent(metrics.ComponentStore, true, "")
}
