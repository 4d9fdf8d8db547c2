package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tether/pkg/types"
)

// SessionLister is the part of the store the collector reads
type SessionLister interface {
	ListSessions(ctx context.Context) ([]*types.Session, error)
}

// Collector periodically samples session counts from the store
type Collector struct {
	store    SessionLister
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(store SessionLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect samples the store once. A failed read marks the store unhealthy
// and leaves the gauges at their previous values.
func (c *Collector) Collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		UpdateComponent(ComponentStore, false, err.Error())
		return
	}
	UpdateComponent(ComponentStore, true, "")

	counts := make(map[types.SessionStatus]int, len(types.AllSessionStatuses))
	for _, s := range sessions {
		counts[s.Status]++
	}
	for _, status := range types.AllSessionStatuses {
		SessionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
