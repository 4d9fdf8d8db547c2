package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/tether/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLStore implements Store on a relational database through gorm
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL opens a gorm connection for driver ("sqlite" or "postgres")
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}

// NewSQLStore migrates the schema and returns a store backed by db. The store
// owns db from here on: it is closed by Close, or right away when the
// migration fails.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	err := db.AutoMigrate(
		&types.Session{},
		&types.OutageEpisode{},
		&types.Tenant{},
		&types.Profile{},
		&types.AuditEntry{},
	)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

// Session operations

func (s *SQLStore) CreateSession(ctx context.Context, session *types.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&types.Session{}).Where("id = ?", session.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("session %s: %w", session.ID, ErrAlreadyExists)
		}
		return s.writeSession(tx, nil, session, true)
	})
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session types.Session
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, notFound(err, "session", id)
	}
	return &session, nil
}

func (s *SQLStore) ListSessions(ctx context.Context) ([]*types.Session, error) {
	return s.ListSessionsByStatus(ctx)
}

func (s *SQLStore) ListSessionsByStatus(ctx context.Context, statuses ...types.SessionStatus) ([]*types.Session, error) {
	var sessions []*types.Session
	q := s.db.WithContext(ctx).Order("id")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *SQLStore) UpdateSession(ctx context.Context, session *types.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored types.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", session.ID).
			First(&stored).Error
		if err != nil {
			return notFound(err, "session", session.ID)
		}
		return s.writeSession(tx, &stored, session, false)
	})
}

func (s *SQLStore) writeSession(tx *gorm.DB, stored, session *types.Session, create bool) error {
	switch prepareSessionWrite(stored, session) {
	case episodeOpen:
		ep := newEpisode(session)
		if err := tx.Create(ep).Error; err != nil {
			return fmt.Errorf("failed to open episode: %w", err)
		}
		session.EpisodeID = ep.ID

	case episodeClose:
		err := tx.Model(&types.OutageEpisode{}).
			Where("id = ?", stored.EpisodeID).
			Update("ended_at", session.UpdatedAt).Error
		if err != nil {
			return fmt.Errorf("failed to close episode: %w", err)
		}

	case episodeKeep:
		if session.EpisodeID != 0 {
			var ep types.OutageEpisode
			if err := tx.First(&ep, session.EpisodeID).Error; err != nil {
				return notFound(err, "episode", session.EpisodeID)
			}
			if touchEpisode(&ep, session) {
				if err := tx.Save(&ep).Error; err != nil {
					return fmt.Errorf("failed to update episode: %w", err)
				}
			}
		}
	}

	if create {
		return tx.Create(session).Error
	}
	return tx.Save(session).Error
}

func (s *SQLStore) MarkAlerted(ctx context.Context, marks []AlertMark, at time.Time) ([]string, error) {
	var marked []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked = marked[:0]
		for _, mark := range marks {
			res := tx.Model(&types.Session{}).
				Where("id = ? AND episode_id = ? AND status <> ?", mark.SessionID, mark.EpisodeID, types.SessionStatusConnected).
				Updates(map[string]any{
					"alert_sent_for_current_disconnect": true,
					"last_alert_sent_at":                at,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				var count int64
				if err := tx.Model(&types.Session{}).Where("id = ?", mark.SessionID).Count(&count).Error; err != nil {
					return err
				}
				if count == 0 {
					return fmt.Errorf("session %s: %w", mark.SessionID, ErrNotFound)
				}
				// Reconnected or in a later outage
				continue
			}
			marked = append(marked, mark.SessionID)

			if mark.EpisodeID == 0 {
				continue
			}
			err := tx.Model(&types.OutageEpisode{}).
				Where("id = ?", mark.EpisodeID).
				Updates(map[string]any{"alerted": true, "alerted_at": at}).Error
			if err != nil {
				return fmt.Errorf("failed to mark episode %d alerted: %w", mark.EpisodeID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// Episode operations

func (s *SQLStore) GetEpisode(ctx context.Context, id uint64) (*types.OutageEpisode, error) {
	var ep types.OutageEpisode
	if err := s.db.WithContext(ctx).First(&ep, id).Error; err != nil {
		return nil, notFound(err, "episode", id)
	}
	return &ep, nil
}

func (s *SQLStore) ListEpisodes(ctx context.Context, sessionID string) ([]*types.OutageEpisode, error) {
	var episodes []*types.OutageEpisode
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id").
		Find(&episodes).Error
	return episodes, err
}

// Tenant operations

func (s *SQLStore) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Create(tenant).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrAlreadyExists)
	}
	return err
}

func (s *SQLStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, notFound(err, "tenant", id)
	}
	return &tenant, nil
}

func (s *SQLStore) UpdateTenant(ctx context.Context, tenant *types.Tenant) error {
	res := s.db.WithContext(ctx).Model(&types.Tenant{}).
		Where("id = ?", tenant.ID).
		Updates(map[string]any{
			"name":             tenant.Name,
			"contact_email":    tenant.ContactEmail,
			"admin_profile_id": tenant.AdminProfileID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("tenant %s: %w", tenant.ID, ErrNotFound)
	}
	return nil
}

// Profile operations

func (s *SQLStore) CreateProfile(ctx context.Context, profile *types.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Create(profile).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("profile %s: %w", profile.ID, ErrAlreadyExists)
	}
	return err
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	var profile types.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, notFound(err, "profile", id)
	}
	return &profile, nil
}

func (s *SQLStore) ListProfiles(ctx context.Context, tenantID string) ([]*types.Profile, error) {
	var profiles []*types.Profile
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at, id").
		Find(&profiles).Error
	return profiles, err
}

// Audit operations

func (s *SQLStore) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ID = 0
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *SQLStore) ListAudit(ctx context.Context, tenantID string) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	q := s.db.WithContext(ctx).Order("id")
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	err := q.Find(&entries).Error
	return entries, err
}
