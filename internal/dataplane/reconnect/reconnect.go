// Package reconnect implements L4: rebuilding an inner client on failure and
// surfacing readiness. The state machine uses atomic counters guarded by
// CompareAndSwap instead of a mutex, tracking Idle/Connecting/Ready/Failed
// transitions rather than a threshold-based open/half-open breaker.
package reconnect

import (
	"sync"
	"sync/atomic"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// State is one of the four reconnect lifecycle states.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Inner is the client Reconnect owns and rebuilds. PollReady reports
// whether the current inner instance is usable; Call issues one request.
type Inner interface {
	PollReady() error
}

// Factory builds a fresh Inner, invoked each time Reconnect leaves Failed.
type Factory[T Inner] func() T

// Reconnect owns an inner client and its factory, presenting a single
// PollReady/state surface that rebuilds the inner on failure. The zero
// value is not usable; construct with New.
type Reconnect[T Inner] struct {
	factory Factory[T]

	mu      sync.Mutex
	inner   T
	state   int32 // atomic State
	lastErr error
}

// New builds a Reconnect around factory. The inner client is not created
// until the first PollReady call (Idle -> Connecting).
func New[T Inner](factory Factory[T]) *Reconnect[T] {
	return &Reconnect[T]{
		factory: factory,
		state:   int32(StateIdle),
	}
}

// State returns the current lifecycle state.
func (r *Reconnect[T]) State() State {
	return State(atomic.LoadInt32(&r.state))
}

// PollReady drives the Idle -> Connecting -> Ready transitions. On Failed,
// the very next poll immediately attempts to rebuild the inner (Failed ->
// Connecting), so a given failure is surfaced exactly once: the call that
// discovers it returns the wrapped error and leaves the state at Failed, and
// the next call moves it on to Connecting.
func (r *Reconnect[T]) PollReady() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case StateIdle, StateFailed:
		r.inner = r.factory()
		atomic.StoreInt32(&r.state, int32(StateConnecting))
		fallthrough
	case StateConnecting:
		if err := r.inner.PollReady(); err != nil {
			return r.enterFailed(err)
		}
		atomic.StoreInt32(&r.state, int32(StateReady))
		return nil
	case StateReady:
		if err := r.inner.PollReady(); err != nil {
			return r.enterFailed(err)
		}
		return nil
	default:
		return &domain.ReconnectError{NotReady: true}
	}
}

// enterFailed transitions to Failed and returns the wrapped error for the
// call that discovered this failure.
func (r *Reconnect[T]) enterFailed(err error) error {
	atomic.StoreInt32(&r.state, int32(StateFailed))
	r.lastErr = err
	return wrap(err)
}

// wrap classifies err into the fixed ReconnectError variant stack so callers
// can pattern-match and log in human-readable form.
func wrap(err error) error {
	var protoErr *domain.ProtocolError
	if pe, ok := err.(*domain.ProtocolError); ok {
		protoErr = pe
	}
	var connErr *domain.ConnectError
	if ce, ok := err.(*domain.ConnectError); ok {
		connErr = ce
	}
	if protoErr == nil && connErr == nil {
		return &domain.ReconnectError{NotReady: true}
	}
	return &domain.ReconnectError{Inner: protoErr, Connect: connErr}
}

// Call issues one request against the inner client. Calling in a non-Ready
// state is a programming error and yields the NotReady marker rather than
// attempting the call.
func (r *Reconnect[T]) Call(fn func(inner T) error) error {
	r.mu.Lock()
	ready := r.State() == StateReady
	inner := r.inner
	r.mu.Unlock()

	if !ready {
		return &domain.ReconnectError{NotReady: true}
	}

	if err := fn(inner); err != nil {
		r.mu.Lock()
		r.enterFailed(err)
		r.mu.Unlock()
		return err
	}
	return nil
}
