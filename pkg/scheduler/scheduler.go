package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
	"github.com/cuemby/tether/pkg/types"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSpec validates a schedule such as "@every 1m" or "*/30 * * * * *"
func ParseSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Pass is one unit of scheduled work
type Pass func(ctx context.Context) error

// ReconcileRunner runs one reconciliation pass
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (types.ReconcileSummary, error)
}

// AlertRunner runs one alert pass
type AlertRunner interface {
	RunOnce(ctx context.Context) (types.AlertSummary, error)
}

// ReconcilePass adapts a reconciler to a Pass
func ReconcilePass(r ReconcileRunner) Pass {
	return func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	}
}

// AlertPass adapts an alert monitor to a Pass
func AlertPass(a AlertRunner) Pass {
	return func(ctx context.Context) error {
		_, err := a.RunOnce(ctx)
		return err
	}
}

// Scheduler triggers passes on cron schedules. A pass still running when
// its next tick fires is not started twice.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	lastOK map[string]bool
	logger zerolog.Logger
}

// NewScheduler creates a scheduler with no passes
func NewScheduler() *Scheduler {
	logger := log.WithComponent("scheduler")
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
		lastOK: make(map[string]bool),
		logger: logger,
	}
}

// Add schedules pass under name
func (s *Scheduler) Add(name, spec string, pass Pass) error {
	if err := ParseSpec(spec); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(spec, func() { s.run(name, pass) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.Info().Str("pass", name).Str("schedule", spec).Msg("Pass scheduled")
	return nil
}

func (s *Scheduler) run(name string, pass Pass) {
	start := time.Now()
	err := pass(s.ctx)

	s.mu.Lock()
	s.lastOK[name] = err == nil
	healthy, message := true, ""
	for n, ok := range s.lastOK {
		if !ok {
			healthy, message = false, n+" pass failed"
		}
	}
	s.mu.Unlock()
	metrics.UpdateComponent(metrics.ComponentScheduler, healthy, message)

	if err != nil {
		s.logger.Error().Err(err).Str("pass", name).Dur("duration", time.Since(start)).Msg("Scheduled pass failed")
		return
	}
	s.logger.Debug().Str("pass", name).Dur("duration", time.Since(start)).Msg("Scheduled pass finished")
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	metrics.RegisterComponent(metrics.ComponentScheduler, true, "")
	s.cron.Start()
}

// Stop stops scheduling and cancels running passes, waiting at most until
// ctx is done for them to return
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("Timed out waiting for running passes")
	}
}

// cronLogger routes cron's own logging to zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
