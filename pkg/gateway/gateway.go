package gateway

import (
	"context"
	"errors"
	"fmt"
)

// State is the connection state reported by the messaging gateway
type State string

const (
	StateOpen       State = "open"
	StateConnecting State = "connecting"
	StateClosed     State = "closed"
	StateUnknown    State = "unknown"
)

// ParseState maps a wire value onto a State, unknown values become StateUnknown
func ParseState(s string) State {
	switch State(s) {
	case StateOpen, StateConnecting, StateClosed:
		return State(s)
	default:
		return StateUnknown
	}
}

// StatusResult is the answer to a status query
type StatusResult struct {
	State State `json:"state"`
}

// ConnectResult is the answer to a connect request. ReauthPayload is set
// when the gateway needs the tenant to pair the session again, typically a
// QR code or pairing code to show them.
type ConnectResult struct {
	State         State  `json:"state"`
	ReauthPayload string `json:"reauth_payload,omitempty"`
}

// NeedsReauth reports whether the gateway asked for re-authentication
func (r ConnectResult) NeedsReauth() bool {
	return r.ReauthPayload != ""
}

// Client talks to the messaging gateway. Both calls must honour the
// deadline carried by ctx.
type Client interface {
	Status(ctx context.Context, ref string) (StatusResult, error)
	Connect(ctx context.Context, ref string) (ConnectResult, error)
}

// Error is a failed gateway call
type Error struct {
	Op         string
	Ref        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("gateway %s %s: timed out", e.Op, e.Ref)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s %s: unexpected status %d", e.Op, e.Ref, e.StatusCode)
	default:
		return fmt.Sprintf("gateway %s %s: %v", e.Op, e.Ref, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a gateway timeout
func IsTimeout(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Timeout
}
