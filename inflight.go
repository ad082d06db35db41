package idempotency

import (
	"context"
	"sync"
)

// Flight is the single-assignment future for one in-flight execution of a
// key. Exactly one leader resolves it, with either a captured response or
// an error, and any number of followers wait on it. The resolution fields
// are written once, before done is closed; the close is the only
// publication point.
type Flight struct {
	done chan struct{}
	resp *CachedResponse
	err  error
}

// Wait blocks until the flight is resolved or ctx is cancelled.
//
// Returns:
//   - The leader's response if the execution succeeded
//   - The leader's error if the execution failed
//   - ctx.Err() if the caller gave up first; the flight itself is unaffected
func (f *Flight) Wait(ctx context.Context) (*CachedResponse, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry tracks in-flight executions per key within this process.
// Registration is an atomic insert-if-absent, so concurrent requests for
// the same key elect exactly one leader. Implementations of the wider
// coordination protocol must guarantee that every registered flight is
// eventually resolved through Complete or Fail.
type Registry struct {
	mu      sync.Mutex
	flights map[string]*Flight
}

// NewRegistry creates an empty in-flight registry.
func NewRegistry() *Registry {
	return &Registry{
		flights: make(map[string]*Flight),
	}
}

// CheckAndMark atomically looks up the flight for key, creating and
// registering one if none exists.
//
// Returns:
//   - The existing flight + false: another request is the leader, wait on it
//   - A new flight + true: this request is the leader (now marked in-flight)
//
// A leader must hand its flight to Complete or Fail on every exit path.
func (r *Registry) CheckAndMark(key string) (*Flight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, exists := r.flights[key]; exists {
		return f, false
	}

	f := &Flight{done: make(chan struct{})}
	r.flights[key] = f
	return f, true
}

// Complete resolves f with the captured response, removes the in-flight
// marker, and wakes all waiters. The flight must be the one returned to
// the leader by CheckAndMark.
func (r *Registry) Complete(key string, f *Flight, resp *CachedResponse) {
	r.mu.Lock()
	// Only the registered flight may unregister its key.
	if r.flights[key] == f {
		delete(r.flights, key)
	}
	r.mu.Unlock()

	f.resp = resp
	close(f.done)
}

// Fail resolves f with err, removes the in-flight marker, and wakes all
// waiters. Nothing is cached; the next request with this key starts a
// fresh execution.
func (r *Registry) Fail(key string, f *Flight, err error) {
	r.mu.Lock()
	if r.flights[key] == f {
		delete(r.flights, key)
	}
	r.mu.Unlock()

	if err == nil {
		err = ErrExecutionAborted
	}
	f.err = err
	close(f.done)
}

// Len reports the number of keys currently in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flights)
}
