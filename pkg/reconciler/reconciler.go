package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/tether/pkg/clock"
	"github.com/cuemby/tether/pkg/events"
	"github.com/cuemby/tether/pkg/gateway"
	"github.com/cuemby/tether/pkg/lease"
	"github.com/cuemby/tether/pkg/lifecycle"
	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/storage"
	"github.com/cuemby/tether/pkg/types"
)

// LeaseName is the lease a reconciliation pass runs under
const LeaseName = "reconcile"

// Config holds the recovery thresholds and budget
type Config struct {
	// ConnectingThreshold is how long a session must have been out before a
	// connecting session is retried
	ConnectingThreshold time.Duration
	// DisconnectedThreshold is the same for disconnected sessions
	DisconnectedThreshold time.Duration
	// MaxAttempts is the attempt budget within AttemptWindow
	MaxAttempts   int
	AttemptWindow time.Duration
	// InterSessionDelay spaces out gateway work between sessions
	InterSessionDelay time.Duration

	StatusTimeout  time.Duration
	ConnectTimeout time.Duration
	PassTimeout    time.Duration
}

// DefaultConfig returns the reference thresholds
func DefaultConfig() Config {
	return Config{
		ConnectingThreshold:   time.Minute,
		DisconnectedThreshold: time.Minute,
		MaxAttempts:           3,
		AttemptWindow:         3 * time.Minute,
		InterSessionDelay:     500 * time.Millisecond,
		StatusTimeout:         10 * time.Second,
		ConnectTimeout:        15 * time.Second,
		PassTimeout:           5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.AttemptWindow <= 0 {
		c.AttemptWindow = def.AttemptWindow
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = def.StatusTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = def.PassTimeout
	}
	return c
}

// Decision is what a pass did with one session
type Decision string

const (
	DecisionNotEligible    Decision = "not_eligible"
	DecisionOptedOut       Decision = "opted_out"
	DecisionBudgetSkipped  Decision = "skipped_budget_exhausted"
	DecisionAlreadyOpen    Decision = "recovered_ground_truth"
	DecisionRecovered      Decision = "recovered"
	DecisionAttemptFailed  Decision = "attempt_failed"
	DecisionReauthRequired Decision = "reauth_required"
	DecisionEscalated      Decision = "escalated_budget_exhausted"
	DecisionAborted        Decision = "aborted_store_error"
)

// Reconciler brings sessions that dropped their gateway connection back
// online within a bounded attempt budget
type Reconciler struct {
	store   storage.Store
	gateway gateway.Client
	clock   clock.Clock
	locker  lease.Locker
	events  events.Publisher
	limiter *rate.Limiter
	cfg     Config
	logger  zerolog.Logger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock sets the clock used for every time decision
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithLocker sets the pass lease backend
func WithLocker(l lease.Locker) Option {
	return func(r *Reconciler) { r.locker = l }
}

// WithEvents sets the event publisher
func WithEvents(p events.Publisher) Option {
	return func(r *Reconciler) { r.events = p }
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Store, gw gateway.Client, cfg Config, opts ...Option) *Reconciler {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.InterSessionDelay > 0 {
		limit = rate.Every(cfg.InterSessionDelay)
	}
	r := &Reconciler{
		store:   store,
		gateway: gw,
		clock:   clock.Real{},
		locker:  lease.Noop{},
		events:  (*events.Broker)(nil),
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  log.WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce performs one reconciliation pass. It only returns an error when
// the session list cannot be read or the pass is cut short by ctx; per
// session failures are counted in the summary.
func (r *Reconciler) RunOnce(ctx context.Context) (types.ReconcileSummary, error) {
	timer := metrics.NewTimer()
	summary := types.ReconcileSummary{StartedAt: r.clock.Now()}
	result := "completed"
	defer func() {
		summary.DurationMS = timer.Duration().Milliseconds()
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.WithLabelValues(result).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PassTimeout)
	defer cancel()

	release, ok := r.acquire(ctx)
	if !ok {
		result = "deferred"
		summary.Deferred = true
		r.logger.Info().Msg("Another runner holds the reconcile lease, deferring")
		return summary, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lease.ErrNotHeld) {
			r.logger.Warn().Err(err).Msg("Failed to release reconcile lease")
		}
	}()

	sessions, err := r.store.ListSessionsByStatus(ctx, types.SessionStatusConnecting, types.SessionStatusDisconnected)
	if err != nil {
		result = "failed"
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return summary, fmt.Errorf("failed to list sessions: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			result = "failed"
			return summary, fmt.Errorf("reconcile pass interrupted: %w", err)
		}

		summary.Checked++
		decision := r.reconcileSession(ctx, session, &summary)
		metrics.ReconcileDecisionsTotal.WithLabelValues(string(decision)).Inc()
	}

	r.logger.Info().
		Int("checked", summary.Checked).
		Int("qualified", summary.Qualified).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("needing_reauth", summary.NeedingReauth).
		Msg("Reconcile pass completed")

	r.events.Publish(&events.Event{
		Type:    events.EventPassCompleted,
		Message: "reconcile",
		Metadata: map[string]string{
			"pass":       "reconcile",
			"qualified":  fmt.Sprint(summary.Qualified),
			"successful": fmt.Sprint(summary.Successful),
		},
	})

	return summary, nil
}

func (r *Reconciler) acquire(ctx context.Context) (lease.Release, bool) {
	release, ok, err := r.locker.Acquire(ctx, LeaseName, r.cfg.PassTimeout)
	switch {
	case err != nil:
		// Overlapping passes are safe, so a broken lease backend must not stop recovery
		metrics.LeaseAcquisitionsTotal.WithLabelValues(LeaseName, "error").Inc()
		r.logger.Warn().Err(err).Msg("Lease backend unavailable, running pass without lease")
		return func(context.Context) error { return nil }, true
	case !ok:
		metrics.LeaseAcquisitionsTotal.WithLabelValues(LeaseName, "held").Inc()
		return nil, false
	default:
		metrics.LeaseAcquisitionsTotal.WithLabelValues(LeaseName, "acquired").Inc()
		return release, true
	}
}

// Eligible reports whether session is due for automated recovery at now
func (r *Reconciler) Eligible(session *types.Session, now time.Time) bool {
	if !lifecycle.Decode(session).Automatable() {
		return false
	}
	switch session.Status {
	case types.SessionStatusConnecting:
		if session.DisconnectedSince == nil {
			return true
		}
		return !session.DisconnectedSince.After(now.Add(-r.cfg.ConnectingThreshold))
	case types.SessionStatusDisconnected:
		if session.DisconnectedSince == nil {
			return false
		}
		return !session.DisconnectedSince.After(now.Add(-r.cfg.DisconnectedThreshold))
	default:
		return false
	}
}

func (r *Reconciler) reconcileSession(ctx context.Context, session *types.Session, summary *types.ReconcileSummary) Decision {
	logger := log.WithSessionID(r.logger, session.ID, session.TenantID)
	now := r.clock.Now()

	if !r.Eligible(session, now) {
		logger.Debug().Str("decision", string(DecisionNotEligible)).Str("status", string(session.Status)).Msg("Session not due")
		return DecisionNotEligible
	}
	summary.Qualified++

	effective := lifecycle.EffectiveAttempts(session.ReconnectAttemptsCount, session.LastReconnectAttemptAt, now, r.cfg.AttemptWindow)
	if effective >= r.cfg.MaxAttempts {
		summary.Skipped++
		logger.Info().
			Str("decision", string(DecisionBudgetSkipped)).
			Int("attempts", effective).
			Msg("Skipped: budget exhausted")
		return DecisionBudgetSkipped
	}

	if err := r.limiter.Wait(ctx); err != nil {
		summary.Failed++
		logger.Warn().Err(err).Str("decision", string(DecisionAborted)).Msg("Pass ended while throttled")
		return DecisionAborted
	}

	// Ground truth first: the row may simply be stale
	statusCtx, cancel := context.WithTimeout(ctx, r.cfg.StatusTimeout)
	status, err := r.gateway.Status(statusCtx, session.Ref())
	cancel()
	if err != nil {
		logger.Warn().Err(err).Bool("timeout", gateway.IsTimeout(err)).Msg("Status query failed, attempting connect")
	} else if status.State == gateway.StateOpen {
		return r.recover(ctx, logger, session, DecisionAlreadyOpen, summary)
	}

	// Re-read so a user action taken while we waited on the gateway wins
	fresh, err := r.store.GetSession(ctx, session.ID)
	if err != nil {
		summary.Failed++
		logger.Error().Err(err).Str("decision", string(DecisionAborted)).Msg("Failed to reload session")
		return DecisionAborted
	}
	if !r.Eligible(fresh, r.clock.Now()) {
		summary.Skipped++
		logger.Info().Str("decision", string(DecisionOptedOut)).Msg("Session changed during pass, leaving it alone")
		return DecisionOptedOut
	}
	effective = lifecycle.EffectiveAttempts(fresh.ReconnectAttemptsCount, fresh.LastReconnectAttemptAt, now, r.cfg.AttemptWindow)
	if effective >= r.cfg.MaxAttempts {
		summary.Skipped++
		logger.Info().Str("decision", string(DecisionBudgetSkipped)).Int("attempts", effective).Msg("Skipped: budget exhausted")
		return DecisionBudgetSkipped
	}
	session = fresh

	// The attempt is recorded before the gateway sees it so a crash mid-call
	// still consumes budget
	lifecycle.BeginAttempt(session, effective, now)
	if err := r.store.UpdateSession(ctx, session); err != nil {
		summary.Failed++
		logger.Error().Err(err).Str("decision", string(DecisionAborted)).Msg("Failed to record attempt, not connecting")
		return DecisionAborted
	}
	attempt := session.ReconnectAttemptsCount

	connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
	res, err := r.gateway.Connect(connectCtx, session.Ref())
	cancel()

	switch {
	case err == nil && res.State == gateway.StateOpen:
		return r.recover(ctx, logger, session, DecisionRecovered, summary)

	case err == nil && res.NeedsReauth():
		summary.Failed++
		return r.park(ctx, logger, session, DecisionReauthRequired, summary)

	case attempt >= r.cfg.MaxAttempts:
		summary.Failed++
		if err != nil {
			logger.Warn().Err(err).Msg("Final connect attempt failed")
		}
		return r.park(ctx, logger, session, DecisionEscalated, summary)

	default:
		summary.Failed++
		ev := logger.Info()
		if err != nil {
			ev = logger.Warn().Err(err).Bool("timeout", gateway.IsTimeout(err))
		}
		ev.Str("decision", string(DecisionAttemptFailed)).
			Int("attempt", attempt).
			Str("state", string(res.State)).
			Msg("Connect attempt did not open the session")
		r.events.Publish(events.SessionEvent(events.EventSessionAttempted, session.ID, session.TenantID,
			fmt.Sprintf("attempt %d of %d", attempt, r.cfg.MaxAttempts)))
		return DecisionAttemptFailed
	}
}

func (r *Reconciler) recover(ctx context.Context, logger zerolog.Logger, session *types.Session, decision Decision, summary *types.ReconcileSummary) Decision {
	lifecycle.Recover(session, r.clock.Now())
	if err := r.store.UpdateSession(ctx, session); err != nil {
		summary.Failed++
		logger.Error().Err(err).Str("decision", string(DecisionAborted)).Msg("Session is open but could not be saved")
		return DecisionAborted
	}
	summary.Successful++
	logger.Info().Str("decision", string(decision)).Msg("Session connected")
	r.events.Publish(events.SessionEvent(events.EventSessionRecovered, session.ID, session.TenantID, string(decision)))
	return decision
}

func (r *Reconciler) park(ctx context.Context, logger zerolog.Logger, session *types.Session, decision Decision, summary *types.ReconcileSummary) Decision {
	lifecycle.RequireReauth(session, r.clock.Now())
	if err := r.store.UpdateSession(ctx, session); err != nil {
		logger.Error().Err(err).Str("decision", string(DecisionAborted)).Msg("Failed to park session for re-authentication")
		return DecisionAborted
	}
	summary.NeedingReauth++
	logger.Warn().
		Str("decision", string(decision)).
		Int("attempts", session.ReconnectAttemptsCount).
		Msg("Session needs re-authentication")
	r.events.Publish(events.SessionEvent(events.EventSessionReauth, session.ID, session.TenantID, string(decision)))
	return decision
}
