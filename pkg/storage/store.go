package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/tether/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose id is taken
	ErrAlreadyExists = errors.New("already exists")
)

// Store defines the interface for tether state storage. It is implemented
// by BoltStore (embedded, default) and SQLStore (gorm).
//
// Session writes maintain outage episodes: writing a session in any status
// other than connected opens an episode if none is open, writing it as
// connected closes the open one.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	ListSessions(ctx context.Context) ([]*types.Session, error)
	ListSessionsByStatus(ctx context.Context, statuses ...types.SessionStatus) ([]*types.Session, error)
	UpdateSession(ctx context.Context, session *types.Session) error
	// MarkAlerted sets the dedup flag on every listed session that is still in
	// the outage it was alerted for and marks that episode alerted. Sessions
	// that reconnected or moved on to another episode are left alone. It
	// returns the ids it marked; an unknown session fails the whole batch.
	MarkAlerted(ctx context.Context, marks []AlertMark, at time.Time) ([]string, error)

	// Episodes
	GetEpisode(ctx context.Context, id uint64) (*types.OutageEpisode, error)
	ListEpisodes(ctx context.Context, sessionID string) ([]*types.OutageEpisode, error)

	// Tenants and profiles
	CreateTenant(ctx context.Context, tenant *types.Tenant) error
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *types.Tenant) error
	CreateProfile(ctx context.Context, profile *types.Profile) error
	GetProfile(ctx context.Context, id string) (*types.Profile, error)
	ListProfiles(ctx context.Context, tenantID string) ([]*types.Profile, error)

	// Audit
	AppendAudit(ctx context.Context, entry *types.AuditEntry) error
	ListAudit(ctx context.Context, tenantID string) ([]*types.AuditEntry, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}

type episodeAction int

const (
	episodeKeep episodeAction = iota
	episodeOpen
	episodeClose
)

// AlertMark names a session and the outage episode an alert covered
type AlertMark struct {
	SessionID string
	EpisodeID uint64
}

// stillInOutage reports whether session is still in the outage mark covered
func (m AlertMark) stillInOutage(session *types.Session) bool {
	return session.Status != types.SessionStatusConnected && session.EpisodeID == m.EpisodeID
}

// prepareSessionWrite reconciles next against the stored row and decides what
// happens to outage episodes. stored is nil for a new session.
func prepareSessionWrite(stored, next *types.Session) episodeAction {
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	if next.CreatedAt.IsZero() {
		if stored != nil {
			next.CreatedAt = stored.CreatedAt
		} else {
			next.CreatedAt = next.UpdatedAt
		}
	}

	var openEpisode uint64
	if stored != nil {
		openEpisode = stored.EpisodeID
	}

	if next.Status == types.SessionStatusConnected {
		next.EpisodeID = 0
		if openEpisode != 0 {
			return episodeClose
		}
		return episodeKeep
	}

	if openEpisode == 0 {
		// A new outage starts unalerted whatever the previous row carried
		if stored != nil {
			next.AlertSentForCurrentDisconnect = false
		}
		next.EpisodeID = 0
		return episodeOpen
	}

	// A stale copy must not clear the dedup flag while the outage lasts
	if stored.AlertSentForCurrentDisconnect {
		next.AlertSentForCurrentDisconnect = true
		if next.LastAlertSentAt == nil {
			next.LastAlertSentAt = stored.LastAlertSentAt
		}
	}

	next.EpisodeID = openEpisode
	return episodeKeep
}

func newEpisode(s *types.Session) *types.OutageEpisode {
	started := s.UpdatedAt
	if s.DisconnectedSince != nil {
		started = *s.DisconnectedSince
	}
	ep := &types.OutageEpisode{
		SessionID: s.ID,
		TenantID:  s.TenantID,
		StartedAt: started,
	}
	if s.AwaitingReauth {
		at := s.UpdatedAt
		ep.ReauthRequiredAt = &at
	}
	return ep
}

// touchEpisode applies a non-closing write to an open episode and reports
// whether the episode changed.
func touchEpisode(ep *types.OutageEpisode, s *types.Session) bool {
	if s.AwaitingReauth && ep.ReauthRequiredAt == nil {
		at := s.UpdatedAt
		ep.ReauthRequiredAt = &at
		return true
	}
	return false
}

func closeEpisode(ep *types.OutageEpisode, at time.Time) {
	ended := at
	ep.EndedAt = &ended
}

func matchesStatus(s *types.Session, statuses []types.SessionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}
