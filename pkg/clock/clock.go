package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Components take a Clock so that
// time-dependent decisions can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system time
type Real struct{}

// Now returns the current UTC time
func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually driven Clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

// Now returns the frozen time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// OrReal returns c, or a Real clock when c is nil
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
