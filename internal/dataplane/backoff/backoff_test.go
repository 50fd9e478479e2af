package backoff

import (
	"errors"
	"testing"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// fakeClock lets tests fire the armed timer deterministically instead of
// sleeping for real.
type fakeClock struct {
	fired func()
}

func (f *fakeClock) Now() time.Time { return time.Time{} }
func (f *fakeClock) AfterFunc(d time.Duration, cb func()) Timer {
	f.fired = cb
	return &fakeTimer{}
}

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type flakyInner struct {
	failing bool
	calls   int
}

func (f *flakyInner) PollReady() error {
	f.calls++
	if f.failing {
		return errors.New("still down")
	}
	return nil
}

func TestBackoff_EntersWaitingOnFailure(t *testing.T) {
	inner := &flakyInner{failing: true}
	clock := &fakeClock{}
	b := NewWithClock(inner, 5*time.Second, clock)

	// The discovering call itself must also return the NotReady marker, not
	// the inner's raw error: callers only ever see readiness, never a
	// transport-specific failure to pattern-match on.
	err := b.PollReady()
	var reconnectErr *domain.ReconnectError
	ok := false
	if re, isRe := err.(*domain.ReconnectError); isRe {
		reconnectErr = re
		ok = true
	}
	if !ok || !reconnectErr.NotReady {
		t.Fatalf("expected NotReady on the discovering call, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected exactly one inner poll, got %d", inner.calls)
	}
	if b.LastError() == nil {
		t.Fatal("expected the discovered error to be recorded on LastError")
	}

	// While waiting, further polls return NotReady without touching inner.
	err2 := b.PollReady()
	reconnectErr2, ok2 := err2.(*domain.ReconnectError)
	if !ok2 || !reconnectErr2.NotReady {
		t.Fatalf("expected NotReady while waiting, got %v", err2)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner not polled again while waiting, got %d calls", inner.calls)
	}
}

func TestBackoff_RepollsAfterTimerFires(t *testing.T) {
	inner := &flakyInner{failing: true}
	clock := &fakeClock{}
	b := NewWithClock(inner, 5*time.Second, clock)

	_ = b.PollReady()

	inner.failing = false
	clock.fired() // simulate the wait duration elapsing

	if err := b.PollReady(); err != nil {
		t.Fatalf("expected recovery after timer fires, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected exactly one inner poll in (0, wait], got %d total", inner.calls)
	}
}
