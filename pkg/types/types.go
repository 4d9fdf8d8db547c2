package types

import (
	"time"
)

// Session is the persisted record of one tenant channel's connection to the
// messaging gateway. One row exists per tenant channel.
type Session struct {
	ID         string        `gorm:"primaryKey;size:64" json:"id"`
	TenantID   string        `gorm:"index;size:64;not null" json:"tenant_id"`
	Channel    string        `gorm:"size:32" json:"channel"`
	GatewayRef string        `gorm:"size:128" json:"gateway_ref"`
	Status     SessionStatus `gorm:"index;size:32;not null" json:"status"`

	// DisconnectedSince marks the start of the current outage
	DisconnectedSince *time.Time `json:"disconnected_since,omitempty"`

	ReconnectAttemptsCount int        `json:"reconnect_attempts_count"`
	LastReconnectAttemptAt *time.Time `json:"last_reconnect_attempt_at,omitempty"`

	ManualDisconnect bool `json:"manual_disconnect"`
	AwaitingReauth   bool `json:"awaiting_reauth"`

	AlertSentForCurrentDisconnect bool       `json:"alert_sent_for_current_disconnect"`
	LastAlertSentAt               *time.Time `json:"last_alert_sent_at,omitempty"`

	// EpisodeID references the open outage episode, 0 while connected
	EpisodeID uint64 `gorm:"index" json:"episode_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// Ref returns the reference used when talking to the gateway about this session
func (s *Session) Ref() string {
	if s.GatewayRef != "" {
		return s.GatewayRef
	}
	return s.ID
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	c.DisconnectedSince = cloneTime(s.DisconnectedSince)
	c.LastReconnectAttemptAt = cloneTime(s.LastReconnectAttemptAt)
	c.LastAlertSentAt = cloneTime(s.LastAlertSentAt)
	return &c
}

// SessionStatus is the connection status stored on a session
type SessionStatus string

const (
	SessionStatusConnected      SessionStatus = "connected"
	SessionStatusConnecting     SessionStatus = "connecting"
	SessionStatusDisconnected   SessionStatus = "disconnected"
	SessionStatusAwaitingReauth SessionStatus = "awaiting_reauth"
	SessionStatusError          SessionStatus = "error"
)

// AllSessionStatuses lists every known status
var AllSessionStatuses = []SessionStatus{
	SessionStatusConnected,
	SessionStatusConnecting,
	SessionStatusDisconnected,
	SessionStatusAwaitingReauth,
	SessionStatusError,
}

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	for _, known := range AllSessionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// OutageEpisode records one outage of a session, from leaving connected until
// returning to connected. IDs increase monotonically.
type OutageEpisode struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        string     `gorm:"index;size:64;not null" json:"session_id"`
	TenantID         string     `gorm:"index;size:64" json:"tenant_id"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	ReauthRequiredAt *time.Time `json:"reauth_required_at,omitempty"`
	Alerted          bool       `json:"alerted"`
	AlertedAt        *time.Time `json:"alerted_at,omitempty"`
}

// Open reports whether the episode has not ended yet
func (e *OutageEpisode) Open() bool {
	return e.EndedAt == nil
}

// Tenant is an organisation owning one or more sessions
type Tenant struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	Name           string    `gorm:"size:255" json:"name"`
	ContactEmail   string    `gorm:"size:255" json:"contact_email,omitempty"`
	AdminProfileID string    `gorm:"size:64" json:"admin_profile_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProfileRole is the role a profile holds within its tenant
type ProfileRole string

const (
	ProfileRoleOwner  ProfileRole = "owner"
	ProfileRoleAdmin  ProfileRole = "admin"
	ProfileRoleMember ProfileRole = "member"
)

// Administrative reports whether the role may receive operational alerts
func (r ProfileRole) Administrative() bool {
	return r == ProfileRoleOwner || r == ProfileRoleAdmin
}

// Profile is a user belonging to a tenant
type Profile struct {
	ID        string      `gorm:"primaryKey;size:64" json:"id"`
	TenantID  string      `gorm:"index;size:64;not null" json:"tenant_id"`
	Email     string      `gorm:"size:255" json:"email"`
	Role      ProfileRole `gorm:"size:32" json:"role"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditKind classifies audit entries
type AuditKind string

const (
	AuditKindDisconnectAlert AuditKind = "disconnect_alert"
)

// AuditEntry is an immutable record of a notification sent to a tenant
type AuditEntry struct {
	ID        uint64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  string           `gorm:"index;size:64;not null" json:"tenant_id"`
	Kind      AuditKind        `gorm:"size:64" json:"kind"`
	Recipient string           `gorm:"size:255" json:"recipient"`
	Sessions  []AuditedSession `gorm:"serializer:json" json:"sessions"`
	CreatedAt time.Time        `json:"created_at"`
}

// AuditedSession is one session listed in an audit entry
type AuditedSession struct {
	SessionID      string        `json:"session_id"`
	Channel        string        `json:"channel,omitempty"`
	Status         SessionStatus `json:"status"`
	Reason         string        `json:"reason"`
	OutageDuration time.Duration `json:"outage_duration"`
	EpisodeID      uint64        `json:"episode_id,omitempty"`
}

// ReconcileSummary is the result of one reconciliation pass
type ReconcileSummary struct {
	Checked       int       `json:"checked"`
	Qualified     int       `json:"qualified"`
	Successful    int       `json:"successful"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	NeedingReauth int       `json:"needing_reauth"`
	Deferred      bool      `json:"deferred,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	DurationMS    int64     `json:"duration_ms"`
}

// AlertSummary is the result of one alert monitor pass
type AlertSummary struct {
	TenantsNotified  int       `json:"tenants_notified"`
	SessionsIncluded int       `json:"sessions_included"`
	TenantsFailed    int       `json:"tenants_failed"`
	TenantsSkipped   int       `json:"tenants_skipped"`
	Deferred         bool      `json:"deferred,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	DurationMS       int64     `json:"duration_ms"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
