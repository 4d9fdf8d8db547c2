// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/cuemby/tether/pkg/gateway"
)

// Call records one request made against the fake
type Call struct {
	Op  string
	Ref string
}

// Fake is a scripted gateway.Client. Unscripted refs report StateClosed for
// status and StateConnecting for connect.
type Fake struct {
	mu         sync.Mutex
	status     map[string]gateway.StatusResult
	statusErr  map[string]error
	connect    map[string]gateway.ConnectResult
	connectErr map[string]error
	calls      []Call
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		status:     make(map[string]gateway.StatusResult),
		statusErr:  make(map[string]error),
		connect:    make(map[string]gateway.ConnectResult),
		connectErr: make(map[string]error),
	}
}

// SetStatus scripts the status answer for ref
func (f *Fake) SetStatus(ref string, state gateway.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[ref] = gateway.StatusResult{State: state}
}

// FailStatus makes status calls for ref return err
func (f *Fake) FailStatus(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr[ref] = err
}

// SetConnect scripts the connect answer for ref
func (f *Fake) SetConnect(ref string, res gateway.ConnectResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connect[ref] = res
}

// FailConnect makes connect calls for ref return err
func (f *Fake) FailConnect(ref string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr[ref] = err
}

// Status implements gateway.Client
func (f *Fake) Status(ctx context.Context, ref string) (gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "status", Ref: ref})
	if err := f.statusErr[ref]; err != nil {
		return gateway.StatusResult{State: gateway.StateUnknown}, err
	}
	if res, ok := f.status[ref]; ok {
		return res, nil
	}
	return gateway.StatusResult{State: gateway.StateClosed}, nil
}

// Connect implements gateway.Client
func (f *Fake) Connect(ctx context.Context, ref string) (gateway.ConnectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: "connect", Ref: ref})
	if err := f.connectErr[ref]; err != nil {
		return gateway.ConnectResult{State: gateway.StateUnknown}, err
	}
	if res, ok := f.connect[ref]; ok {
		return res, nil
	}
	return gateway.ConnectResult{State: gateway.StateConnecting}, nil
}

// Calls returns every call made so far
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the calls made for ref
func (f *Fake) CallsFor(ref string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Ref == ref {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many op calls were made for ref
func (f *Fake) Count(op, ref string) int {
	n := 0
	for _, c := range f.CallsFor(ref) {
		if c.Op == op {
			n++
		}
	}
	return n
}
