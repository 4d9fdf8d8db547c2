package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/types"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec  string
		valid bool
	}{
		{"@every 1m", true},
		{"*/30 * * * * *", true},
		{"* * * * *", true},
		{"@hourly", true},
		{"every minute", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ParseSpec(tt.spec)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	s := NewScheduler()
	err := s.Add("reconcile", "not a spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestSchedulerRunsPasses(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Add("reconcile", "* * * * * *", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := NewScheduler()
	var started atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Add("alerts", "* * * * * *", func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	s.Start()
	require.Eventually(t, func() bool { return started.Load() == 1 }, 3*time.Second, 50*time.Millisecond)

	// Let at least two more ticks fire while the first run blocks
	time.Sleep(2100 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestStopCancelsRunningPass(t *testing.T) {
	s := NewScheduler()
	running := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, s.Add("reconcile", "* * * * * *", func(ctx context.Context) error {
		select {
		case running <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-running:
	case <-time.After(3 * time.Second):
		t.Fatal("pass never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, cancelled.Load())
}

type failingReconciler struct{}

func (failingReconciler) RunOnce(context.Context) (types.ReconcileSummary, error) {
	return types.ReconcileSummary{}, errors.New("store unreachable")
}

type okAlerts struct{ calls atomic.Int32 }

func (a *okAlerts) RunOnce(context.Context) (types.AlertSummary, error) {
	a.calls.Add(1)
	return types.AlertSummary{TenantsNotified: 1}, nil
}

func TestPassAdaptersAndHealth(t *testing.T) {
	assert.Error(t, ReconcilePass(failingReconciler{})(context.Background()))

	alerts := &okAlerts{}
	require.NoError(t, AlertPass(alerts)(context.Background()))
	assert.Equal(t, int32(1), alerts.calls.Load())

	s := NewScheduler()
	s.run("reconcile", ReconcilePass(failingReconciler{}))
	assert.Contains(t, metrics.GetHealth().Components[metrics.ComponentScheduler], "reconcile pass failed")

	s.lastOK["reconcile"] = true
	s.run("alerts", AlertPass(alerts))
	assert.Equal(t, "healthy", metrics.GetHealth().Components[metrics.ComponentScheduler])
}
