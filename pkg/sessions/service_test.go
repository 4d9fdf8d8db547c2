package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tether/pkg/clock"
	"github.com/cuemby/tether/pkg/gateway"
	"github.com/cuemby/tether/pkg/gateway/gatewaytest"
	"github.com/cuemby/tether/pkg/lifecycle"
	"github.com/cuemby/tether/pkg/storage"
	"github.com/cuemby/tether/pkg/types"
)

var now = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store   storage.Store
	gateway *gatewaytest.Fake
	clock   *clock.Fake
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, gateway: gatewaytest.New(), clock: clock.NewFake(now)}
	f.svc = NewService(store, f.gateway, WithClock(f.clock))
	require.NoError(t, f.svc.CreateTenant(context.Background(), &types.Tenant{ID: "tenant-a", Name: "Acme"}))
	return f
}

func (f *fixture) seed(t *testing.T, s *types.Session) *types.Session {
	t.Helper()
	s.TenantID = "tenant-a"
	s.UpdatedAt = now.Add(-time.Minute)
	require.NoError(t, f.store.CreateSession(context.Background(), s))
	return s
}

func (f *fixture) get(t *testing.T, id string) *types.Session {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestProvision(t *testing.T) {
	f := newFixture(t)

	s, err := f.svc.Provision(context.Background(), ProvisionRequest{TenantID: "tenant-a", Channel: "whatsapp"})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, types.SessionStatusAwaitingReauth, s.Status)
	assert.True(t, s.AwaitingReauth)
	assert.Nil(t, s.DisconnectedSince)
	assert.Equal(t, lifecycle.KindAwaitingReauth, lifecycle.Decode(f.get(t, s.ID)).Kind())
}

func TestProvisionValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Provision(context.Background(), ProvisionRequest{Channel: "whatsapp"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.Provision(context.Background(), ProvisionRequest{TenantID: "ghost"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConnectOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		script     func(g *gatewaytest.Fake)
		wantStatus types.SessionStatus
		wantReauth string
		wantErr    bool
	}{
		{
			name:       "open",
			script:     func(g *gatewaytest.Fake) { g.SetConnect("s1", gateway.ConnectResult{State: gateway.StateOpen}) },
			wantStatus: types.SessionStatusConnected,
		},
		{
			name: "pairing required",
			script: func(g *gatewaytest.Fake) {
				g.SetConnect("s1", gateway.ConnectResult{State: gateway.StateClosed, ReauthPayload: "qr-data"})
			},
			wantStatus: types.SessionStatusAwaitingReauth,
			wantReauth: "qr-data",
		},
		{
			name:       "in progress",
			script:     func(g *gatewaytest.Fake) {},
			wantStatus: types.SessionStatusConnecting,
		},
		{
			name:       "gateway failure",
			script:     func(g *gatewaytest.Fake) { g.FailConnect("s1", errors.New("boom")) },
			wantStatus: types.SessionStatusConnecting,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, &types.Session{
				ID:                     "s1",
				Status:                 types.SessionStatusDisconnected,
				ManualDisconnect:       true,
				ReconnectAttemptsCount: 2,
				LastReconnectAttemptAt: &now,
				DisconnectedSince:      &now,
			})
			tt.script(f.gateway)

			res, err := f.svc.Connect(context.Background(), "s1")
			require.NoError(t, err)

			assert.Equal(t, 1, f.gateway.Count("connect", "s1"))
			assert.Equal(t, tt.wantReauth, res.ReauthPayload)
			assert.Equal(t, tt.wantErr, res.GatewayError != "")

			stored := f.get(t, "s1")
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.False(t, stored.ManualDisconnect)
			assert.Zero(t, stored.ReconnectAttemptsCount)
		})
	}
}

func TestDisconnectIsManual(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &types.Session{ID: "s1", Status: types.SessionStatusConnected})

	s, err := f.svc.Disconnect(context.Background(), "s1")
	require.NoError(t, err)

	assert.True(t, s.ManualDisconnect)
	assert.Equal(t, types.SessionStatusDisconnected, s.Status)
	assert.False(t, lifecycle.Decode(f.get(t, "s1")).Automatable())
}

func TestCompleteReauth(t *testing.T) {
	t.Run("gateway already open", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, &types.Session{ID: "s1", Status: types.SessionStatusAwaitingReauth, AwaitingReauth: true, DisconnectedSince: &now})
		f.gateway.SetStatus("s1", gateway.StateOpen)

		s, err := f.svc.CompleteReauth(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, types.SessionStatusConnected, s.Status)
		assert.Nil(t, s.DisconnectedSince)
	})

	t.Run("not yet open", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, &types.Session{
			ID:                     "s1",
			Status:                 types.SessionStatusAwaitingReauth,
			AwaitingReauth:         true,
			ReconnectAttemptsCount: 3,
			LastReconnectAttemptAt: &now,
		})

		s, err := f.svc.CompleteReauth(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, types.SessionStatusConnecting, s.Status)
		assert.False(t, s.AwaitingReauth)
		assert.Zero(t, s.ReconnectAttemptsCount)
		assert.True(t, lifecycle.Decode(f.get(t, "s1")).Automatable())
	})

	t.Run("not awaiting", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, &types.Session{ID: "s1", Status: types.SessionStatusConnected})

		_, err := f.svc.CompleteReauth(context.Background(), "s1")
		assert.ErrorIs(t, err, lifecycle.ErrNotAwaitingReauth)
		assert.Zero(t, f.gateway.Count("status", "s1"))
	})
}

func TestReportState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, &types.Session{ID: "live", Status: types.SessionStatusConnected})
	f.seed(t, &types.Session{ID: "manual", Status: types.SessionStatusDisconnected, ManualDisconnect: true, DisconnectedSince: &now})

	res, err := f.svc.ReportState(ctx, "live", ReportedDisconnected)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, types.SessionStatusDisconnected, f.get(t, "live").Status)
	assert.False(t, f.get(t, "live").ManualDisconnect)

	res, err = f.svc.ReportState(ctx, "manual", ReportedConnecting)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, types.SessionStatusDisconnected, f.get(t, "manual").Status)

	res, err = f.svc.ReportState(ctx, "manual", ReportedConnected)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, types.SessionStatusConnected, f.get(t, "manual").Status)
	assert.False(t, f.get(t, "manual").ManualDisconnect)

	_, err = f.svc.ReportState(ctx, "live", "exploded")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEpisodesFollowReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, &types.Session{ID: "s1", Status: types.SessionStatusConnected})

	_, err := f.svc.ReportState(ctx, "s1", ReportedDisconnected)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.ReportState(ctx, "s1", ReportedConnected)
	require.NoError(t, err)

	episodes, err := f.svc.Episodes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.False(t, episodes[0].Open())

	_, err = f.svc.Episodes(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTenantsAndProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.CreateTenant(ctx, &types.Tenant{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	profile := &types.Profile{Email: "admin@acme.test"}
	require.NoError(t, f.svc.AddProfile(ctx, "tenant-a", profile, true))
	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, types.ProfileRoleMember, profile.Role)

	tenant, err := f.svc.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, tenant.AdminProfileID)

	err = f.svc.AddProfile(ctx, "ghost", &types.Profile{Email: "x@y.test"}, false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entries, err := f.svc.Audit(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
