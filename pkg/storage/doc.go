/*
Package storage persists tether state: sessions, outage episodes, tenants,
profiles and the alert audit log.

Two implementations of Store are provided. BoltStore is embedded and needs no
external service; it is the default. SQLStore runs on gorm and supports
sqlite and postgres for deployments that already operate a database.

# Layout

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  File: <dataDir>/tether.db                                 │
	│                                                            │
	│  sessions   (session ID)      JSON types.Session           │
	│  episodes   (uint64, BE)      JSON types.OutageEpisode     │
	│  tenants    (tenant ID)       JSON types.Tenant            │
	│  profiles   (profile ID)      JSON types.Profile           │
	│  audit      (uint64, BE)      JSON types.AuditEntry        │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

The SQL backend maps the same types onto the tables sessions,
outage_episodes, tenants, profiles and audit_entries via AutoMigrate.

# Outage Episodes

Episode bookkeeping happens inside the session write transaction, so the
controllers never manage episodes themselves:

  - A session written in any status other than connected, with no open
    episode, opens a new episode. Ids come from the bucket sequence (bolt)
    or the autoincrement key (SQL) and only ever grow.
  - A session written as connected closes its open episode and clears
    Session.EpisodeID.
  - A session parked in awaiting_reauth stamps ReauthRequiredAt on the open
    episode.
  - While an episode is open the alert dedup flag cannot be cleared by a
    write carrying a stale copy of the session.

MarkAlerted flips the dedup flag on a batch of sessions and their open
episodes in one transaction. Each session is named together with the episode
the alert covered; a session that reconnected or started another outage in
the meantime is skipped, so a flag never leaks into the next outage. Opening
a new episode also clears the flag.

# Errors

Lookups of unknown records wrap ErrNotFound and duplicate creates wrap
ErrAlreadyExists; callers test with errors.Is.
*/
package storage
