package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/tether/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSessions = []byte("sessions")
	bucketEpisodes = []byte("episodes")
	bucketTenants  = []byte("tenants")
	bucketProfiles = []byte("profiles")
	bucketAudit    = []byte("audit")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "tether.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSessions,
			bucketEpisodes,
			bucketTenants,
			bucketProfiles,
			bucketAudit,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is usable
func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketSessions) == nil {
			return fmt.Errorf("sessions bucket missing")
		}
		return nil
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func put(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Session operations

func (s *BoltStore) CreateSession(ctx context.Context, session *types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(session.ID)) != nil {
			return fmt.Errorf("session %s: %w", session.ID, ErrAlreadyExists)
		}
		return s.writeSession(tx, nil, session)
	})
}

func (s *BoltStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var session *types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		session, err = getSession(tx, id)
		return err
	})
	return session, err
}

func getSession(tx *bolt.Tx, id string) (*types.Session, error) {
	data := tx.Bucket(bucketSessions).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &session, nil
}

func (s *BoltStore) ListSessions(ctx context.Context) ([]*types.Session, error) {
	return s.ListSessionsByStatus(ctx)
}

func (s *BoltStore) ListSessionsByStatus(ctx context.Context, statuses ...types.SessionStatus) ([]*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.ForEach(func(k, v []byte) error {
			var session types.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			if matchesStatus(&session, statuses) {
				sessions = append(sessions, &session)
			}
			return nil
		})
	})
	return sessions, err
}

func (s *BoltStore) UpdateSession(ctx context.Context, session *types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		stored, err := getSession(tx, session.ID)
		if err != nil {
			return err
		}
		return s.writeSession(tx, stored, session)
	})
}

func (s *BoltStore) writeSession(tx *bolt.Tx, stored, session *types.Session) error {
	episodes := tx.Bucket(bucketEpisodes)

	switch prepareSessionWrite(stored, session) {
	case episodeOpen:
		id, err := episodes.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate episode id: %w", err)
		}
		ep := newEpisode(session)
		ep.ID = id
		if err := put(episodes, itob(id), ep); err != nil {
			return fmt.Errorf("failed to open episode: %w", err)
		}
		session.EpisodeID = id

	case episodeClose:
		ep, err := getEpisode(tx, stored.EpisodeID)
		if err != nil {
			return err
		}
		closeEpisode(ep, session.UpdatedAt)
		if err := put(episodes, itob(ep.ID), ep); err != nil {
			return fmt.Errorf("failed to close episode: %w", err)
		}

	case episodeKeep:
		if session.EpisodeID != 0 {
			ep, err := getEpisode(tx, session.EpisodeID)
			if err != nil {
				return err
			}
			if touchEpisode(ep, session) {
				if err := put(episodes, itob(ep.ID), ep); err != nil {
					return fmt.Errorf("failed to update episode: %w", err)
				}
			}
		}
	}

	return put(tx.Bucket(bucketSessions), []byte(session.ID), session)
}

func (s *BoltStore) MarkAlerted(ctx context.Context, marks []AlertMark, at time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var marked []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		episodes := tx.Bucket(bucketEpisodes)
		marked = marked[:0]

		for _, mark := range marks {
			session, err := getSession(tx, mark.SessionID)
			if err != nil {
				return err
			}
			if !mark.stillInOutage(session) {
				continue
			}

			alertedAt := at
			session.AlertSentForCurrentDisconnect = true
			session.LastAlertSentAt = &alertedAt
			if err := put(sessions, []byte(session.ID), session); err != nil {
				return fmt.Errorf("failed to mark session %s alerted: %w", session.ID, err)
			}
			marked = append(marked, session.ID)

			if mark.EpisodeID == 0 {
				continue
			}
			ep, err := getEpisode(tx, mark.EpisodeID)
			if err != nil {
				return err
			}
			ep.Alerted = true
			ep.AlertedAt = &alertedAt
			if err := put(episodes, itob(ep.ID), ep); err != nil {
				return fmt.Errorf("failed to mark episode %d alerted: %w", ep.ID, err)
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

func (s *BoltStore) GetEpisode(ctx context.Context, id uint64) (*types.OutageEpisode, error) {
	var ep *types.OutageEpisode
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ep, err = getEpisode(tx, id)
		return err
	})
	return ep, err
}

func getEpisode(tx *bolt.Tx, id uint64) (*types.OutageEpisode, error) {
	data := tx.Bucket(bucketEpisodes).Get(itob(id))
	if data == nil {
		return nil, fmt.Errorf("episode %d: %w", id, ErrNotFound)
	}
	var ep types.OutageEpisode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, fmt.Errorf("failed to decode episode %d: %w", id, err)
	}
	return &ep, nil
}

func (s *BoltStore) ListEpisodes(ctx context.Context, sessionID string) ([]*types.OutageEpisode, error) {
	var episodes []*types.OutageEpisode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEpisodes)
		// Keys are big-endian ids so the cursor walks them in order
		return b.ForEach(func(k, v []byte) error {
			var ep types.OutageEpisode
			if err := json.Unmarshal(v, &ep); err != nil {
				return err
			}
			if ep.SessionID == sessionID {
				episodes = append(episodes, &ep)
			}
			return nil
		})
	})
	return episodes, err
}

// Tenant operations

func (s *BoltStore) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		if b.Get([]byte(tenant.ID)) != nil {
			return fmt.Errorf("tenant %s: %w", tenant.ID, ErrAlreadyExists)
		}
		if tenant.CreatedAt.IsZero() {
			tenant.CreatedAt = time.Now().UTC()
		}
		return put(b, []byte(tenant.ID), tenant)
	})
}

func (s *BoltStore) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTenants).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &tenant)
	})
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *BoltStore) UpdateTenant(ctx context.Context, tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTenants)
		if b.Get([]byte(tenant.ID)) == nil {
			return fmt.Errorf("tenant %s: %w", tenant.ID, ErrNotFound)
		}
		return put(b, []byte(tenant.ID), tenant)
	})
}

// Profile operations

func (s *BoltStore) CreateProfile(ctx context.Context, profile *types.Profile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b.Get([]byte(profile.ID)) != nil {
			return fmt.Errorf("profile %s: %w", profile.ID, ErrAlreadyExists)
		}
		if profile.CreatedAt.IsZero() {
			profile.CreatedAt = time.Now().UTC()
		}
		return put(b, []byte(profile.ID), profile)
	})
}

func (s *BoltStore) GetProfile(ctx context.Context, id string) (*types.Profile, error) {
	var profile types.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &profile)
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *BoltStore) ListProfiles(ctx context.Context, tenantID string) ([]*types.Profile, error) {
	var profiles []*types.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		return b.ForEach(func(k, v []byte) error {
			var profile types.Profile
			if err := json.Unmarshal(v, &profile); err != nil {
				return err
			}
			if profile.TenantID == tenantID {
				profiles = append(profiles, &profile)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortProfiles(profiles)
	return profiles, nil
}

// sortProfiles orders profiles oldest first, ties broken by id
func sortProfiles(profiles []*types.Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		if !profiles[i].CreatedAt.Equal(profiles[j].CreatedAt) {
			return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
		}
		return profiles[i].ID < profiles[j].ID
	})
}

// Audit operations

func (s *BoltStore) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate audit id: %w", err)
		}
		entry.ID = id
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		return put(b, itob(id), entry)
	})
}

func (s *BoltStore) ListAudit(ctx context.Context, tenantID string) ([]*types.AuditEntry, error) {
	var entries []*types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		return b.ForEach(func(k, v []byte) error {
			var entry types.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if tenantID == "" || entry.TenantID == tenantID {
				entries = append(entries, &entry)
			}
			return nil
		})
	})
	return entries, err
}
