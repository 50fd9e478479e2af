// Package backoff implements L5: a fixed wait imposed after a poll-readiness
// failure before the underlying service is polled again, preventing tight
// reconnection loops against a failing controller or backend.
package backoff

import (
	"sync"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// Inner is the service Backoff wraps.
type Inner interface {
	PollReady() error
}

// Clock is the time source Backoff waits against; tests inject a fake to
// avoid real sleeps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the production Clock, backed by time.AfterFunc.
var RealClock Clock = realClock{}

// Backoff wraps an Inner service. On Inner.PollReady returning an error it
// enters a waiting state for a fixed duration before polling the inner
// again.
// TODO: jittered exponential growth instead of a fixed wait.
type Backoff struct {
	inner Inner
	wait  time.Duration
	clock Clock

	mu      sync.Mutex
	waiting bool
	timer   Timer
	lastErr error
}

// New builds a Backoff around inner with a fixed wait duration (5s is the
// typical value for the controller channel).
func New(inner Inner, wait time.Duration) *Backoff {
	return &Backoff{inner: inner, wait: wait, clock: RealClock}
}

// NewWithClock is New with an injectable Clock, for tests that need
// deterministic timer control.
func NewWithClock(inner Inner, wait time.Duration, clock Clock) *Backoff {
	return &Backoff{inner: inner, wait: wait, clock: clock}
}

// PollReady returns NotReady while waiting, including the call that
// discovers a fresh failure: the discovered error is recorded on lastErr
// (retrievable via LastError) rather than surfaced, since Backoff's
// contract is readiness, not diagnostics.
func (b *Backoff) PollReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.waiting {
		return &domain.ReconnectError{NotReady: true}
	}

	if err := b.inner.PollReady(); err != nil {
		b.lastErr = err
		b.arm()
		return &domain.ReconnectError{NotReady: true}
	}
	return nil
}

// LastError returns the most recent error discovered from the inner
// service, or nil if the inner has never failed. Diagnostic only: it plays
// no part in the waiting/ready decision.
func (b *Backoff) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// arm enters the waiting state and schedules the wait timer to fire.
// Callers must hold b.mu.
func (b *Backoff) arm() {
	b.waiting = true
	b.timer = b.clock.AfterFunc(b.wait, func() {
		b.mu.Lock()
		b.waiting = false
		b.mu.Unlock()
	})
}

// Stop cancels any pending wait timer, used when the owning Bound Service
// is torn down before the backoff window elapses.
func (b *Backoff) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}
