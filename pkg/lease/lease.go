package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/tether/pkg/clock"
)

// ErrNotHeld is returned when releasing a lease that expired or was taken over
var ErrNotHeld = errors.New("lease not held")

// Release gives a lease back
type Release func(ctx context.Context) error

// Locker hands out named, time-bounded leases. At most one holder owns a
// name until it releases it or the ttl runs out.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error)
}

func noopRelease(context.Context) error { return nil }

// Noop grants every request. Passes then overlap freely.
type Noop struct{}

// Acquire always succeeds
func (Noop) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error) {
	return noopRelease, true, nil
}

// Memory is a Locker for a single process
type Memory struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]memoryLease
}

type memoryLease struct {
	token     string
	expiresAt time.Time
}

// NewMemory creates an in-process Locker. A nil clock uses the system time.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{
		clock:  clock.OrReal(c),
		leases: make(map[string]memoryLease),
	}
}

// Acquire takes the lease when it is free or expired
func (m *Memory) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if held, ok := m.leases[name]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	m.leases[name] = memoryLease{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if held, ok := m.leases[name]; !ok || held.token != token {
			return ErrNotHeld
		}
		delete(m.leases, name)
		return nil
	}, true, nil
}
