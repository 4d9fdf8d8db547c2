package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/tether/pkg/clock"
	"github.com/cuemby/tether/pkg/events"
	"github.com/cuemby/tether/pkg/gateway"
	"github.com/cuemby/tether/pkg/lifecycle"
	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/storage"
	"github.com/cuemby/tether/pkg/types"
)

var (
	// ErrInvalidArgument is returned for malformed requests
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState is returned for a reported state that is not known
	ErrInvalidState = errors.New("invalid reported state")
)

// ReportedState is a connection state pushed by the gateway or a webhook
type ReportedState string

const (
	ReportedConnected    ReportedState = "connected"
	ReportedConnecting   ReportedState = "connecting"
	ReportedDisconnected ReportedState = "disconnected"
	ReportedError        ReportedState = "error"
)

// ProvisionRequest describes a new session
type ProvisionRequest struct {
	ID         string `json:"id,omitempty"`
	TenantID   string `json:"tenant_id"`
	Channel    string `json:"channel"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

// ConnectResult is the outcome of a user initiated connect
type ConnectResult struct {
	Session       *types.Session `json:"session"`
	ReauthPayload string         `json:"reauth_payload,omitempty"`
	// GatewayError is set when the gateway call failed; the session stays
	// connecting and automated recovery takes over
	GatewayError string `json:"gateway_error,omitempty"`
}

// ReportResult is the outcome of a state report
type ReportResult struct {
	Session *types.Session `json:"session"`
	Applied bool           `json:"applied"`
}

// Service applies explicit user and gateway actions to sessions
type Service struct {
	store          storage.Store
	gateway        gateway.Client
	clock          clock.Clock
	events         events.Publisher
	connectTimeout time.Duration
	statusTimeout  time.Duration
	logger         zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock sets the clock
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithEvents sets the event publisher
func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithTimeouts sets the gateway call timeouts
func WithTimeouts(status, connect time.Duration) Option {
	return func(s *Service) {
		if status > 0 {
			s.statusTimeout = status
		}
		if connect > 0 {
			s.connectTimeout = connect
		}
	}
}

// NewService creates a session service
func NewService(store storage.Store, gw gateway.Client, opts ...Option) *Service {
	s := &Service{
		store:          store,
		gateway:        gw,
		clock:          clock.Real{},
		events:         (*events.Broker)(nil),
		statusTimeout:  10 * time.Second,
		connectTimeout: 15 * time.Second,
		logger:         log.WithComponent("sessions"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision creates a session for a tenant channel. New sessions wait for
// the tenant to pair them.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (*types.Session, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, fmt.Errorf("tenant_id is required: %w", ErrInvalidArgument)
	}
	if _, err := s.store.GetTenant(ctx, req.TenantID); err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	now := s.clock.Now()
	session := &types.Session{
		ID:         req.ID,
		TenantID:   req.TenantID,
		Channel:    req.Channel,
		GatewayRef: req.GatewayRef,
		Status:     types.SessionStatusAwaitingReauth,
		// Never connected, so there is no outage yet
		AwaitingReauth: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	sessionLogger := log.WithSessionID(s.logger, session.ID, session.TenantID)
	sessionLogger.Info().
		Str("channel", session.Channel).
		Msg("Session provisioned")
	s.events.Publish(events.SessionEvent(events.EventSessionProvisioned, session.ID, session.TenantID, "session provisioned"))
	return session, nil
}

// Get returns a session
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	return s.store.GetSession(ctx, id)
}

// Episodes returns the outage history of a session
func (s *Service) Episodes(ctx context.Context, id string) ([]*types.OutageEpisode, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEpisodes(ctx, id)
}

// Connect is a user request to (re)connect a session. It lifts manual and
// re-auth opt outs, starts a fresh attempt budget and asks the gateway to
// connect once.
func (s *Service) Connect(ctx context.Context, id string) (*ConnectResult, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := log.WithSessionID(s.logger, session.ID, session.TenantID)

	now := s.clock.Now()
	lifecycle.Resume(session, now)
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	res, err := s.gateway.Connect(callCtx, session.Ref())
	cancel()

	result := &ConnectResult{Session: session}
	now = s.clock.Now()
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Gateway connect failed, leaving session to automated recovery")
		result.GatewayError = err.Error()
		return result, nil
	case res.State == gateway.StateOpen:
		lifecycle.Recover(session, now)
	case res.NeedsReauth():
		lifecycle.RequireReauth(session, now)
		result.ReauthPayload = res.ReauthPayload
	default:
		return result, nil
	}

	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.publishStatus(session)
	logger.Info().Str("status", string(session.Status)).Msg("Session connect requested")
	return result, nil
}

// Disconnect turns a session off at the tenant's request. Automated
// recovery and alerts leave it alone until it is connected again.
func (s *Service) Disconnect(ctx context.Context, id string) (*types.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	lifecycle.Disconnect(session, true, s.clock.Now())
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	sessionLogger := log.WithSessionID(s.logger, session.ID, session.TenantID)
	sessionLogger.Info().Msg("Session disconnected manually")
	s.events.Publish(events.SessionEvent(events.EventSessionDisconnected, session.ID, session.TenantID, "disconnected manually"))
	return session, nil
}

// CompleteReauth records that the tenant paired the session again. The
// gateway decides whether it is already connected.
func (s *Service) CompleteReauth(ctx context.Context, id string) (*types.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := log.WithSessionID(s.logger, session.ID, session.TenantID)

	if err := lifecycle.CompleteReauth(session, s.clock.Now()); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.statusTimeout)
	status, err := s.gateway.Status(callCtx, session.Ref())
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("Gateway status failed after re-authentication")
	} else if status.State == gateway.StateOpen {
		lifecycle.Recover(session, s.clock.Now())
	}

	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	logger.Info().Str("status", string(session.Status)).Msg("Re-authentication completed")
	s.publishStatus(session)
	return session, nil
}

// ReportState applies a state pushed by the gateway. Reports for sessions
// the tenant turned off or that wait for pairing are ignored unless they
// say the session is connected.
func (s *Service) ReportState(ctx context.Context, id string, state ReportedState) (*ReportResult, error) {
	switch state {
	case ReportedConnected, ReportedConnecting, ReportedDisconnected, ReportedError:
	default:
		return nil, fmt.Errorf("%q: %w", state, ErrInvalidState)
	}

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := log.WithSessionID(s.logger, session.ID, session.TenantID)

	if state != ReportedConnected && (session.ManualDisconnect || session.AwaitingReauth) {
		logger.Debug().Str("reported", string(state)).Msg("Ignoring state report for opted out session")
		return &ReportResult{Session: session}, nil
	}

	now := s.clock.Now()
	switch state {
	case ReportedConnected:
		lifecycle.Recover(session, now)
	case ReportedConnecting:
		lifecycle.StartConnecting(session, now)
	case ReportedDisconnected:
		lifecycle.Disconnect(session, false, now)
	case ReportedError:
		lifecycle.Fail(session, now)
	}

	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	logger.Info().Str("reported", string(state)).Msg("Session state reported")
	s.events.Publish(events.SessionEvent(events.EventSessionStateReported, session.ID, session.TenantID, string(state)))
	return &ReportResult{Session: session, Applied: true}, nil
}

func (s *Service) publishStatus(session *types.Session) {
	switch session.Status {
	case types.SessionStatusConnected:
		s.events.Publish(events.SessionEvent(events.EventSessionRecovered, session.ID, session.TenantID, "session connected"))
	case types.SessionStatusAwaitingReauth:
		s.events.Publish(events.SessionEvent(events.EventSessionReauth, session.ID, session.TenantID, "re-authentication required"))
	}
}
