package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tether/pkg/log"
	"github.com/cuemby/tether/pkg/metrics"
)

// Monitor runs dependency checks on an interval and publishes the debounced
// verdicts to the metrics component registry
type Monitor struct {
	config Config
	probes []*probe
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger zerolog.Logger
}

type probe struct {
	component string
	checker   Checker
	status    *Status
}

// NewMonitor creates a monitor. Zero config fields take their defaults.
func NewMonitor(config Config) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}
	return &Monitor{
		config: config,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("health"),
	}
}

// Add registers a checker for component. Call before Start.
func (m *Monitor) Add(component string, checker Checker) {
	m.probes = append(m.probes, &probe{component: component, checker: checker, status: NewStatus()})
	metrics.RegisterComponent(component, true, "not checked yet")
}

// Start runs every probe once, then keeps probing in the background
func (m *Monitor) Start(ctx context.Context) {
	m.CheckNow(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CheckNow(ctx)
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops background probing
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// CheckNow runs every probe once
func (m *Monitor) CheckNow(ctx context.Context) {
	for _, p := range m.probes {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		result := p.checker.Check(checkCtx)
		cancel()

		wasHealthy := p.status.Healthy
		p.status.Update(result, m.config)

		message := ""
		if !p.status.Healthy {
			message = result.Message
		}
		metrics.UpdateComponent(p.component, p.status.Healthy, message)

		if wasHealthy != p.status.Healthy {
			evt := m.logger.Info()
			if !p.status.Healthy {
				evt = m.logger.Warn()
			}
			evt.Str("dependency", p.component).
				Bool("healthy", p.status.Healthy).
				Str("result", result.Message).
				Msg("Dependency health changed")
		}
	}
}

// Status returns the current status of component, or nil
func (m *Monitor) Status(component string) *Status {
	for _, p := range m.probes {
		if p.component == component {
			s := *p.status
			return &s
		}
	}
	return nil
}
