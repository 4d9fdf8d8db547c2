/*
Package log provides structured logging for tether using zerolog.

A single global Logger is configured once at startup through Init and then
narrowed into component loggers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("reconciler")
	slog := log.WithSessionID(logger, session.ID, session.TenantID)
	slog.Info().Str("decision", "recovered").Msg("session reconnected")

The reconciler and the alert monitor log one line per decision so that an
operator can reconstruct why a session was retried, skipped, escalated or
alerted on. Console output is meant for local use; production deployments
should set JSONOutput.
*/
package log
