package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tether/pkg/clock"
	"github.com/cuemby/tether/pkg/events"
	"github.com/cuemby/tether/pkg/lease"
	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/storage"
	"github.com/cuemby/tether/pkg/types"
)

// LeaseName is the lease an alert pass runs under
const LeaseName = "alerts"

// Reason is why a session is included in an alert
type Reason string

const (
	ReasonDisconnected    Reason = "disconnected"
	ReasonErrored         Reason = "error"
	ReasonStuckConnecting Reason = "stuck_connecting"
	ReasonReauthRequired  Reason = "reauth_required"
)

// Describe returns a human readable form of the reason
func (r Reason) Describe() string {
	switch r {
	case ReasonDisconnected:
		return "disconnected"
	case ReasonErrored:
		return "failed"
	case ReasonStuckConnecting:
		return "stuck while reconnecting"
	case ReasonReauthRequired:
		return "needs to be paired again"
	default:
		return string(r)
	}
}

// Config holds alert thresholds
type Config struct {
	// DisconnectThreshold applies to disconnected and errored sessions,
	// measured from disconnected_since
	DisconnectThreshold time.Duration
	// ConnectingThreshold applies to connecting sessions, measured from
	// updated_at
	ConnectingThreshold time.Duration
	// ReauthAlerts includes sessions parked in awaiting_reauth, which the
	// disconnect and connecting filters alone would never select. They share
	// the dedup flag, so each parked outage still alerts at most once.
	ReauthAlerts bool
	// FallbackRecipient receives alerts for tenants without any address
	FallbackRecipient string

	SendTimeout time.Duration
	PassTimeout time.Duration
}

// DefaultConfig returns the reference thresholds
func DefaultConfig() Config {
	return Config{
		DisconnectThreshold: 5 * time.Minute,
		ConnectingThreshold: 30 * time.Minute,
		ReauthAlerts:        true,
		SendTimeout:         15 * time.Second,
		PassTimeout:         5 * time.Minute,
	}
}

// Monitor notifies tenants about sessions that stay down, at most once per
// outage
type Monitor struct {
	store    storage.Store
	notifier Notifier
	resolver *RecipientResolver
	clock    clock.Clock
	locker   lease.Locker
	events   events.Publisher
	cfg      Config
	logger   zerolog.Logger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock sets the clock used for thresholds and timestamps
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLocker sets the pass lease backend
func WithLocker(l lease.Locker) Option {
	return func(m *Monitor) { m.locker = l }
}

// WithEvents sets the event publisher
func WithEvents(p events.Publisher) Option {
	return func(m *Monitor) { m.events = p }
}

// NewMonitor creates an alert monitor
func NewMonitor(store storage.Store, notifier Notifier, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = def.PassTimeout
	}
	m := &Monitor{
		store:    store,
		notifier: notifier,
		resolver: NewRecipientResolver(store, cfg.FallbackRecipient),
		clock:    clock.Real{},
		locker:   lease.Noop{},
		events:   (*events.Broker)(nil),
		cfg:      cfg,
		logger:   log.WithComponent("alerts"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Select reports whether session is due for an alert at now, why, and when
// its outage started
func (m *Monitor) Select(session *types.Session, now time.Time) (Reason, time.Time, bool) {
	if session.ManualDisconnect || session.AlertSentForCurrentDisconnect {
		return "", time.Time{}, false
	}

	if session.AwaitingReauth || session.Status == types.SessionStatusAwaitingReauth {
		// A session that was never connected has no outage to report
		if !m.cfg.ReauthAlerts || session.DisconnectedSince == nil {
			return "", time.Time{}, false
		}
		return ReasonReauthRequired, *session.DisconnectedSince, true
	}

	switch session.Status {
	case types.SessionStatusDisconnected, types.SessionStatusError:
		if session.DisconnectedSince == nil || session.DisconnectedSince.After(now.Add(-m.cfg.DisconnectThreshold)) {
			return "", time.Time{}, false
		}
		reason := ReasonDisconnected
		if session.Status == types.SessionStatusError {
			reason = ReasonErrored
		}
		return reason, *session.DisconnectedSince, true

	case types.SessionStatusConnecting:
		if session.UpdatedAt.After(now.Add(-m.cfg.ConnectingThreshold)) {
			return "", time.Time{}, false
		}
		since := session.UpdatedAt
		if session.DisconnectedSince != nil {
			since = *session.DisconnectedSince
		}
		return ReasonStuckConnecting, since, true
	}

	return "", time.Time{}, false
}

// RunOnce performs one alert pass
func (m *Monitor) RunOnce(ctx context.Context) (types.AlertSummary, error) {
	timer := metrics.NewTimer()
	now := m.clock.Now()
	summary := types.AlertSummary{StartedAt: now}
	result := "completed"
	defer func() {
		summary.DurationMS = timer.Duration().Milliseconds()
		metrics.AlertPassesTotal.WithLabelValues(result).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.PassTimeout)
	defer cancel()

	release, ok, err := m.locker.Acquire(ctx, LeaseName, m.cfg.PassTimeout)
	switch {
	case err != nil:
		metrics.LeaseAcquisitionsTotal.WithLabelValues(LeaseName, "error").Inc()
		m.logger.Warn().Err(err).Msg("Lease backend unavailable, running pass without lease")
	case !ok:
		metrics.LeaseAcquisitionsTotal.WithLabelValues(LeaseName, "held").Inc()
		result = "deferred"
		summary.Deferred = true
		m.logger.Info().Msg("Another runner holds the alerts lease, deferring")
		return summary, nil
	default:
		metrics.LeaseAcquisitionsTotal.WithLabelValues(LeaseName, "acquired").Inc()
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lease.ErrNotHeld) {
				m.logger.Warn().Err(err).Msg("Failed to release alerts lease")
			}
		}()
	}

	sessions, err := m.store.ListSessionsByStatus(ctx,
		types.SessionStatusDisconnected,
		types.SessionStatusError,
		types.SessionStatusConnecting,
		types.SessionStatusAwaitingReauth,
	)
	if err != nil {
		result = "failed"
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return summary, fmt.Errorf("failed to list sessions: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	byTenant := make(map[string][]AffectedSession)
	for _, s := range sessions {
		reason, since, ok := m.Select(s, now)
		if !ok {
			continue
		}
		byTenant[s.TenantID] = append(byTenant[s.TenantID], AffectedSession{
			Session:  s,
			Reason:   reason,
			Since:    since,
			Duration: now.Sub(since),
		})
	}

	tenantIDs := make([]string, 0, len(byTenant))
	for id := range byTenant {
		tenantIDs = append(tenantIDs, id)
	}
	sort.Strings(tenantIDs)

	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			result = "failed"
			return summary, fmt.Errorf("alert pass interrupted: %w", err)
		}

		affected := byTenant[tenantID]
		sort.Slice(affected, func(i, j int) bool { return affected[i].Session.ID < affected[j].Session.ID })

		switch m.notifyTenant(ctx, tenantID, affected, now) {
		case tenantNotified:
			summary.TenantsNotified++
			summary.SessionsIncluded += len(affected)
		case tenantSkipped:
			summary.TenantsSkipped++
		case tenantFailed:
			summary.TenantsFailed++
		}
	}

	m.logger.Info().
		Int("tenants_notified", summary.TenantsNotified).
		Int("sessions_included", summary.SessionsIncluded).
		Int("tenants_failed", summary.TenantsFailed).
		Int("tenants_skipped", summary.TenantsSkipped).
		Msg("Alert pass completed")

	return summary, nil
}

type tenantOutcome int

const (
	tenantNotified tenantOutcome = iota
	tenantSkipped
	tenantFailed
)

func (m *Monitor) notifyTenant(ctx context.Context, tenantID string, affected []AffectedSession, now time.Time) tenantOutcome {
	logger := log.WithTenantID(m.logger, tenantID)

	recipient, err := m.resolver.Resolve(ctx, tenantID)
	if errors.Is(err, ErrNoRecipient) {
		logger.Warn().Int("sessions", len(affected)).Msg("No alert recipient configured, skipping tenant")
		metrics.AlertDeliveriesTotal.WithLabelValues("skipped").Inc()
		return tenantSkipped
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve alert recipient")
		metrics.AlertDeliveriesTotal.WithLabelValues("failed").Inc()
		return tenantFailed
	}

	// Render without a tenant name when the record cannot be read
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		tenant = nil
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to load tenant, rendering alert without its name")
		}
	}
	msg, err := Render(tenant, tenantID, affected, now)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to render alert")
		metrics.AlertDeliveriesTotal.WithLabelValues("failed").Inc()
		return tenantFailed
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	err = m.notifier.Send(sendCtx, recipient.Address, msg.Subject, msg.Body)
	cancel()
	if err != nil {
		logger.Error().Err(err).Str("recipient", recipient.Address).Msg("Alert delivery failed")
		metrics.AlertDeliveriesTotal.WithLabelValues("failed").Inc()
		m.events.Publish(&events.Event{
			Type:     events.EventAlertFailed,
			Message:  err.Error(),
			Metadata: map[string]string{"tenant_id": tenantID},
		})
		return tenantFailed
	}
	metrics.AlertDeliveriesTotal.WithLabelValues("sent").Inc()
	metrics.AlertedSessionsTotal.Add(float64(len(affected)))

	ids := make([]string, 0, len(affected))
	marks := make([]storage.AlertMark, 0, len(affected))
	audited := make([]types.AuditedSession, 0, len(affected))
	for _, a := range affected {
		ids = append(ids, a.Session.ID)
		marks = append(marks, storage.AlertMark{SessionID: a.Session.ID, EpisodeID: a.Session.EpisodeID})
		audited = append(audited, types.AuditedSession{
			SessionID:      a.Session.ID,
			Channel:        a.Session.Channel,
			Status:         a.Session.Status,
			Reason:         string(a.Reason),
			OutageDuration: a.Duration,
			EpisodeID:      a.Session.EpisodeID,
		})
	}

	// The email is out, so a failure from here on is logged but the tenant
	// still counts as notified
	marked, err := m.store.MarkAlerted(ctx, marks, now)
	switch {
	case err != nil:
		logger.Error().Err(err).Strs("sessions", ids).Msg("Alert sent but dedup flags not saved")
	case len(marked) < len(ids):
		// Sessions that recovered while the alert was in flight keep a clean
		// flag for their next outage
		logger.Info().Strs("sessions", ids).Strs("marked", marked).Msg("Some sessions recovered during delivery, not flagged")
	}

	entry := &types.AuditEntry{
		TenantID:  tenantID,
		Kind:      types.AuditKindDisconnectAlert,
		Recipient: recipient.Address,
		Sessions:  audited,
		CreatedAt: now,
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("Failed to append audit entry")
	}

	logger.Info().
		Str("recipient", recipient.Address).
		Str("recipient_source", string(recipient.Source)).
		Str("sessions", strings.Join(ids, ",")).
		Msg("Alert sent")
	m.events.Publish(&events.Event{
		Type:    events.EventAlertSent,
		Message: msg.Subject,
		Metadata: map[string]string{
			"tenant_id": tenantID,
			"recipient": recipient.Address,
			"sessions":  strings.Join(ids, ","),
		},
	})
	return tenantNotified
}
