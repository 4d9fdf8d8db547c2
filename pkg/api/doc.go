/*
Package api exposes tether over HTTP and gRPC.

# HTTP

The chi router serves probes at the root and the API under /v1:

	GET  /health /ready /live /metrics

	POST /v1/passes/reconcile           run one reconciliation pass
	POST /v1/passes/alerts              run one alert pass

	POST /v1/sessions                   provision
	GET  /v1/sessions/{id}
	GET  /v1/sessions/{id}/episodes     outage history
	POST /v1/sessions/{id}/connect
	POST /v1/sessions/{id}/disconnect
	POST /v1/sessions/{id}/reauth-complete
	POST /v1/sessions/{id}/state        {"state": "disconnected"}

	POST /v1/tenants
	GET  /v1/tenants/{id}
	POST /v1/tenants/{id}/profiles
	GET  /v1/tenants/{id}/audit

	GET  /v1/events                     server-sent events

Pass endpoints are what an external scheduler calls; they are idempotent
and return the pass summary as the response body. Failures use a single
body shape:

	{"error": {"code": "not_found", "message": "session s1: not found"}}

When a token is configured every /v1 route requires
"Authorization: Bearer <token>". Probes stay open.

# gRPC

HealthServer implements grpc.health.v1.Health for both the empty service
name and "tether", following metrics.IsReady.
*/
package api
