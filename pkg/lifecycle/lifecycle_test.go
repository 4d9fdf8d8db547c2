package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tether/pkg/types"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestEffectiveAttempts(t *testing.T) {
	window := 3 * time.Minute

	tests := []struct {
		name  string
		count int
		last  *time.Time
		want  int
	}{
		{name: "never attempted", count: 0, last: nil, want: 0},
		{name: "count without timestamp", count: 2, last: nil, want: 0},
		{name: "inside window", count: 2, last: ago(2 * time.Minute), want: 2},
		{name: "at window edge", count: 2, last: ago(3 * time.Minute), want: 0},
		{name: "outside window", count: 3, last: ago(10 * time.Minute), want: 0},
		{name: "future timestamp", count: 1, last: ago(-time.Minute), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveAttempts(tt.count, tt.last, now, window))
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		session types.Session
		want    Kind
	}{
		{"connected", types.Session{Status: types.SessionStatusConnected}, KindConnected},
		{"connecting", types.Session{Status: types.SessionStatusConnecting}, KindConnecting},
		{"disconnected", types.Session{Status: types.SessionStatusDisconnected, DisconnectedSince: ago(time.Minute)}, KindDisconnected},
		{"error", types.Session{Status: types.SessionStatusError}, KindErrored},
		{"awaiting status", types.Session{Status: types.SessionStatusAwaitingReauth}, KindAwaitingReauth},
		{"awaiting flag wins", types.Session{Status: types.SessionStatusConnecting, AwaitingReauth: true}, KindAwaitingReauth},
		{"manual flag wins", types.Session{Status: types.SessionStatusDisconnected, ManualDisconnect: true, AwaitingReauth: true}, KindManuallyDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.session
			state := Decode(&s)
			assert.Equal(t, tt.want, state.Kind())
		})
	}
}

func TestAutomatable(t *testing.T) {
	assert.True(t, Connecting{}.Automatable())
	assert.True(t, Disconnected{}.Automatable())
	assert.False(t, Connected{}.Automatable())
	assert.False(t, AwaitingReauth{}.Automatable())
	assert.False(t, ManuallyDisconnected{}.Automatable())
}

func TestRecoverClearsOutage(t *testing.T) {
	s := &types.Session{
		Status:                        types.SessionStatusConnecting,
		DisconnectedSince:             ago(5 * time.Minute),
		ReconnectAttemptsCount:        2,
		LastReconnectAttemptAt:        ago(time.Minute),
		ManualDisconnect:              true,
		AwaitingReauth:                true,
		AlertSentForCurrentDisconnect: true,
		LastAlertSentAt:               ago(time.Minute),
	}

	Recover(s, now)

	assert.Equal(t, types.SessionStatusConnected, s.Status)
	assert.Nil(t, s.DisconnectedSince)
	assert.Zero(t, s.ReconnectAttemptsCount)
	assert.Nil(t, s.LastReconnectAttemptAt)
	assert.False(t, s.ManualDisconnect)
	assert.False(t, s.AwaitingReauth)
	assert.False(t, s.AlertSentForCurrentDisconnect)
	assert.NotNil(t, s.LastAlertSentAt, "history of the last alert is kept")
	assert.Equal(t, now, s.UpdatedAt)
}

func TestBeginAttempt(t *testing.T) {
	since := ago(4 * time.Minute)
	s := &types.Session{Status: types.SessionStatusDisconnected, DisconnectedSince: since}

	BeginAttempt(s, 2, now)

	assert.Equal(t, types.SessionStatusConnecting, s.Status)
	assert.Equal(t, 3, s.ReconnectAttemptsCount)
	require.NotNil(t, s.LastReconnectAttemptAt)
	assert.Equal(t, now, *s.LastReconnectAttemptAt)
	assert.Equal(t, since, s.DisconnectedSince, "outage start is preserved")
}

func TestBeginAttemptStampsMissingOutageStart(t *testing.T) {
	s := &types.Session{Status: types.SessionStatusConnecting}

	BeginAttempt(s, 0, now)

	require.NotNil(t, s.DisconnectedSince)
	assert.Equal(t, now, *s.DisconnectedSince)
	assert.Equal(t, 1, s.ReconnectAttemptsCount)
}

func TestRequireReauthKeepsAlertFlag(t *testing.T) {
	s := &types.Session{Status: types.SessionStatusConnecting, AlertSentForCurrentDisconnect: true}

	RequireReauth(s, now)

	assert.Equal(t, types.SessionStatusAwaitingReauth, s.Status)
	assert.True(t, s.AwaitingReauth)
	assert.True(t, s.AlertSentForCurrentDisconnect)
	assert.Equal(t, KindAwaitingReauth, Decode(s).Kind())
}

func TestDisconnect(t *testing.T) {
	t.Run("automatic", func(t *testing.T) {
		s := &types.Session{Status: types.SessionStatusConnected}
		Disconnect(s, false, now)
		assert.Equal(t, types.SessionStatusDisconnected, s.Status)
		assert.False(t, s.ManualDisconnect)
		require.NotNil(t, s.DisconnectedSince)
		assert.Equal(t, now, *s.DisconnectedSince)
	})

	t.Run("manual", func(t *testing.T) {
		s := &types.Session{
			Status:                 types.SessionStatusConnecting,
			ReconnectAttemptsCount: 2,
			LastReconnectAttemptAt: ago(time.Minute),
		}
		Disconnect(s, true, now)
		assert.True(t, s.ManualDisconnect)
		assert.Zero(t, s.ReconnectAttemptsCount)
		assert.Nil(t, s.LastReconnectAttemptAt)
		assert.Equal(t, KindManuallyDisconnected, Decode(s).Kind())
	})
}

func TestCompleteReauth(t *testing.T) {
	s := &types.Session{
		ID:                     "s1",
		Status:                 types.SessionStatusAwaitingReauth,
		AwaitingReauth:         true,
		ReconnectAttemptsCount: 3,
		LastReconnectAttemptAt: ago(time.Minute),
		DisconnectedSince:      ago(10 * time.Minute),
	}

	require.NoError(t, CompleteReauth(s, now))

	assert.Equal(t, types.SessionStatusConnecting, s.Status)
	assert.False(t, s.AwaitingReauth)
	assert.Zero(t, s.ReconnectAttemptsCount)
	assert.Nil(t, s.LastReconnectAttemptAt)
	assert.True(t, Decode(s).Automatable())

	connected := &types.Session{ID: "s2", Status: types.SessionStatusConnected}
	assert.ErrorIs(t, CompleteReauth(connected, now), ErrNotAwaitingReauth)
}

func TestFailAndStartConnecting(t *testing.T) {
	s := &types.Session{Status: types.SessionStatusConnected}

	Fail(s, now)
	assert.Equal(t, KindErrored, Decode(s).Kind())
	first := *s.DisconnectedSince

	StartConnecting(s, now.Add(time.Minute))
	assert.Equal(t, KindConnecting, Decode(s).Kind())
	assert.Equal(t, first, *s.DisconnectedSince)
}
