/*
Package metrics provides Prometheus metrics and the component health
registry for tether.

All metrics are package level variables registered with the default
Prometheus registry at init and exposed by Handler on /metrics.

# Metrics

	tether_sessions{status}                          gauge, sampled by Collector
	tether_reconcile_cycles_total{result}            completed, deferred, failed
	tether_reconcile_duration_seconds                histogram per pass
	tether_reconcile_decisions_total{decision}       one per session per pass
	tether_gateway_requests_total{operation,result}  status/connect outcomes
	tether_gateway_request_duration_seconds{operation}
	tether_alert_passes_total{result}
	tether_alert_deliveries_total{result}            sent, failed, skipped
	tether_alerted_sessions_total                    sessions listed in sent alerts
	tether_lease_acquisitions_total{lease,result}    acquired, held, error
	tether_api_requests_total{route,status}
	tether_api_request_duration_seconds{route}

Timing follows one pattern throughout:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

Components report into a process wide registry with RegisterComponent and
UpdateComponent. GetHealth is unhealthy when a critical component (store,
api by default) fails and degraded when any other one does. GetReadiness only
looks at critical components. HealthHandler, ReadyHandler and
LivenessHandler serve /health, /ready and /live.
*/
package metrics
