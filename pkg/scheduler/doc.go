// Package scheduler triggers reconciliation and alert passes on cron
// schedules inside a tether process.
//
// It wraps robfig/cron with seconds-optional specs and descriptors
// ("@every 1m", "*/30 * * * * *"). Every job runs behind cron.Recover and
// cron.SkipIfStillRunning, so a slow pass delays its next run instead of
// overlapping with it. Cron's own logging is routed to zerolog.
//
// External schedulers can call the HTTP pass endpoints instead; the scheduler
// is only one way to drive passes and holds no state of its own beyond the
// last outcome of each pass, which feeds the "scheduler" health component.
package scheduler
