package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/tether/pkg/types"
)

// ErrNotAwaitingReauth is returned when re-authentication is completed for a
// session that was not waiting for it
var ErrNotAwaitingReauth = errors.New("not awaiting re-authentication")

// Kind identifies the variant of a State
type Kind string

const (
	KindConnected            Kind = "connected"
	KindConnecting           Kind = "connecting"
	KindDisconnected         Kind = "disconnected"
	KindErrored              Kind = "errored"
	KindAwaitingReauth       Kind = "awaiting_reauth"
	KindManuallyDisconnected Kind = "manually_disconnected"
)

// State is the decoded lifecycle state of a session. Exactly one of the
// concrete types below implements it for any stored row.
type State interface {
	Kind() Kind
	// Automatable reports whether automated recovery may act on the session
	Automatable() bool
}

// Connected is a session with an open gateway connection
type Connected struct{}

// Connecting is a session with a connection in progress. Since is nil when
// the row never recorded the start of the outage.
type Connecting struct {
	Since    *time.Time
	Attempts int
	LastTry  *time.Time
}

// Disconnected is a session whose gateway connection dropped
type Disconnected struct {
	Since *time.Time
}

// Errored is a session the gateway reported as failed
type Errored struct {
	Since *time.Time
}

// AwaitingReauth is a session that needs the tenant to pair it again
type AwaitingReauth struct {
	Since *time.Time
}

// ManuallyDisconnected is a session the tenant turned off
type ManuallyDisconnected struct {
	Since *time.Time
}

func (Connected) Kind() Kind            { return KindConnected }
func (Connecting) Kind() Kind           { return KindConnecting }
func (Disconnected) Kind() Kind         { return KindDisconnected }
func (Errored) Kind() Kind              { return KindErrored }
func (AwaitingReauth) Kind() Kind       { return KindAwaitingReauth }
func (ManuallyDisconnected) Kind() Kind { return KindManuallyDisconnected }

func (Connected) Automatable() bool            { return false }
func (Connecting) Automatable() bool           { return true }
func (Disconnected) Automatable() bool         { return true }
func (Errored) Automatable() bool              { return false }
func (AwaitingReauth) Automatable() bool       { return false }
func (ManuallyDisconnected) Automatable() bool { return false }

// Decode maps a stored session onto its lifecycle state. The opt-out flags
// take precedence over the status column.
func Decode(s *types.Session) State {
	switch {
	case s.ManualDisconnect:
		return ManuallyDisconnected{Since: s.DisconnectedSince}
	case s.AwaitingReauth || s.Status == types.SessionStatusAwaitingReauth:
		return AwaitingReauth{Since: s.DisconnectedSince}
	}

	switch s.Status {
	case types.SessionStatusConnected:
		return Connected{}
	case types.SessionStatusConnecting:
		return Connecting{
			Since:    s.DisconnectedSince,
			Attempts: s.ReconnectAttemptsCount,
			LastTry:  s.LastReconnectAttemptAt,
		}
	case types.SessionStatusError:
		return Errored{Since: s.DisconnectedSince}
	default:
		return Disconnected{Since: s.DisconnectedSince}
	}
}

// EffectiveAttempts returns the attempt count that applies at now. The stored
// count only holds while the last attempt is younger than window; otherwise
// the budget has been replenished and the result is zero.
func EffectiveAttempts(count int, lastAttemptAt *time.Time, now time.Time, window time.Duration) int {
	if lastAttemptAt == nil || count <= 0 {
		return 0
	}
	if now.Sub(*lastAttemptAt) >= window {
		return 0
	}
	return count
}

// Recover marks the session connected and clears every outage field,
// including the opt-out flags and the alert dedup flag.
func Recover(s *types.Session, now time.Time) {
	s.Status = types.SessionStatusConnected
	s.DisconnectedSince = nil
	s.ReconnectAttemptsCount = 0
	s.LastReconnectAttemptAt = nil
	s.ManualDisconnect = false
	s.AwaitingReauth = false
	s.AlertSentForCurrentDisconnect = false
	s.UpdatedAt = now
}

// BeginAttempt records an automated recovery attempt against a budget that
// already holds effective attempts.
func BeginAttempt(s *types.Session, effective int, now time.Time) {
	s.Status = types.SessionStatusConnecting
	s.ReconnectAttemptsCount = effective + 1
	t := now
	s.LastReconnectAttemptAt = &t
	s.DisconnectedSince = outageStart(s, now)
	s.UpdatedAt = now
}

// RequireReauth parks the session until the tenant pairs it again. The alert
// flag is left untouched so an outage already alerted stays alerted.
func RequireReauth(s *types.Session, now time.Time) {
	s.Status = types.SessionStatusAwaitingReauth
	s.AwaitingReauth = true
	s.DisconnectedSince = outageStart(s, now)
	s.UpdatedAt = now
}

// Disconnect marks the connection dropped. A manual disconnect opts the
// session out of automated recovery.
func Disconnect(s *types.Session, manual bool, now time.Time) {
	s.Status = types.SessionStatusDisconnected
	if manual {
		s.ManualDisconnect = true
		s.ReconnectAttemptsCount = 0
		s.LastReconnectAttemptAt = nil
	}
	s.DisconnectedSince = outageStart(s, now)
	s.UpdatedAt = now
}

// Fail marks the session errored
func Fail(s *types.Session, now time.Time) {
	s.Status = types.SessionStatusError
	s.DisconnectedSince = outageStart(s, now)
	s.UpdatedAt = now
}

// StartConnecting marks a connection as in progress without consuming budget
func StartConnecting(s *types.Session, now time.Time) {
	s.Status = types.SessionStatusConnecting
	s.DisconnectedSince = outageStart(s, now)
	s.UpdatedAt = now
}

// Resume clears both opt-out flags and hands the session back to automated
// recovery with a fresh budget.
func Resume(s *types.Session, now time.Time) {
	s.ManualDisconnect = false
	s.AwaitingReauth = false
	s.ReconnectAttemptsCount = 0
	s.LastReconnectAttemptAt = nil
	StartConnecting(s, now)
}

// CompleteReauth resumes a session after the tenant paired it again
func CompleteReauth(s *types.Session, now time.Time) error {
	if _, ok := Decode(s).(AwaitingReauth); !ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotAwaitingReauth)
	}
	Resume(s, now)
	return nil
}

func outageStart(s *types.Session, now time.Time) *time.Time {
	if s.DisconnectedSince != nil {
		return s.DisconnectedSince
	}
	t := now
	return &t
}
