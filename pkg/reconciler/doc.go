/*
Package reconciler brings messaging sessions that lost their gateway
connection back online.

A pass is triggered externally (by the scheduler, the HTTP API or the CLI)
and runs to completion. It lists every session in connecting or disconnected
status and walks them one at a time:

	┌──────────────────────── PER SESSION ────────────────────────┐
	│                                                              │
	│  opted out (manual / awaiting_reauth)?      ──► leave alone  │
	│  below threshold?                           ──► not due      │
	│  effective attempts ≥ MaxAttempts?          ──► skip         │
	│                                                              │
	│  gateway Status  ── open ──────────────────► mark connected  │
	│        │                                                     │
	│        ▼ anything else, including errors                     │
	│  persist attempt (count+1, last=now, connecting)             │
	│        │  write failed ────────────────────► abort session   │
	│        ▼                                                     │
	│  gateway Connect ── open ──────────────────► mark connected  │
	│                  ── re-auth payload ───────► awaiting_reauth │
	│                  ── budget now used up ────► awaiting_reauth │
	│                  ── otherwise ─────────────► stay connecting │
	│                                                              │
	└──────────────────────────────────────────────────────────────┘

# Attempt Budget

The stored attempt counter only counts while the last attempt is younger
than AttemptWindow; lifecycle.EffectiveAttempts derives the count that
applies now. With the defaults (three attempts, three minute window, one
minute pass interval) a session that keeps failing is parked in
awaiting_reauth on its third attempt, roughly three minutes into the outage.

# Concurrency

Sessions are processed sequentially and a token bucket spaces gateway work
by InterSessionDelay. Overlapping passes are safe because the budget is
re-derived from timestamps and the gateway is asked for ground truth before
every attempt. A lease.Locker may still be configured so that only one
instance runs a pass at a time; a pass that cannot take the lease reports
Deferred.

# Failure Handling

Gateway timeouts and non-2xx answers count as failed attempts and never
abort the pass. A store error only abandons the affected session. The pass
itself fails only when the session list cannot be read.
*/
package reconciler
