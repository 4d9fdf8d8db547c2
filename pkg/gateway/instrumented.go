package gateway

import (
	"context"

	"github.com/cuemby/tether/pkg/metrics"
)

// Instrumented wraps a Client and records prometheus metrics for every call
type Instrumented struct {
	next Client
}

// Instrument returns next wrapped with metrics
func Instrument(next Client) *Instrumented {
	return &Instrumented{next: next}
}

func (i *Instrumented) Status(ctx context.Context, ref string) (StatusResult, error) {
	timer := metrics.NewTimer()
	res, err := i.next.Status(ctx, ref)
	timer.ObserveDurationVec(metrics.GatewayRequestDuration, "status")
	metrics.GatewayRequestsTotal.WithLabelValues("status", result(err, string(res.State))).Inc()
	return res, err
}

func (i *Instrumented) Connect(ctx context.Context, ref string) (ConnectResult, error) {
	timer := metrics.NewTimer()
	res, err := i.next.Connect(ctx, ref)
	timer.ObserveDurationVec(metrics.GatewayRequestDuration, "connect")
	state := string(res.State)
	if err == nil && res.NeedsReauth() {
		state = "reauth"
	}
	metrics.GatewayRequestsTotal.WithLabelValues("connect", result(err, state)).Inc()
	return res, err
}

func result(err error, state string) string {
	switch {
	case err == nil:
		return state
	case IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}
