/*
Package health probes the dependencies tether relies on and reports their
state to the component registry in pkg/metrics.

Two checkers are provided:

	HTTPChecker   GET an HTTP endpoint, healthy on 2xx/3xx (the gateway)
	PingFunc      wrap any Ping(ctx) error call (store, redis lease backend)

A Monitor runs every registered checker on Config.Interval with
Config.Timeout per check. Failures are debounced: a dependency is reported
unhealthy only after Config.Retries consecutive failed checks, and healthy
again after the first success.

Usage:

	m := health.NewMonitor(health.DefaultConfig())
	m.Add(metrics.ComponentGateway, health.NewGatewayChecker(baseURL, "/health", token))
	m.Add(metrics.ComponentStore, health.PingFunc(store.Ping))
	m.Start(ctx)
	defer m.Stop()

Only the store and the API are critical for readiness. An unreachable
gateway degrades /health but passes keep running, because every gateway
failure is already counted as a failed attempt.
*/
package health
