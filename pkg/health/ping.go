package health

import (
	"context"
	"time"
)

// PingFunc adapts a ping style call (store, redis) into a Checker
type PingFunc func(ctx context.Context) error

// Check calls the function
func (f PingFunc) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f(ctx); err != nil {
		return failed(start, "ping failed: %v", err)
	}
	return Result{
		Healthy:   true,
		Message:   "ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (f PingFunc) Type() CheckType {
	return CheckTypePing
}
