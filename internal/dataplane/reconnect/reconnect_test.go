package reconnect

import (
	"errors"
	"testing"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

type fakeInner struct {
	failUntil int
	calls     int
}

func (f *fakeInner) PollReady() error {
	f.calls++
	if f.calls <= f.failUntil {
		return &domain.ProtocolError{Op: "poll_ready", Err: errors.New("boom")}
	}
	return nil
}

func TestReconnect_IdleToReady(t *testing.T) {
	r := New(func() *fakeInner { return &fakeInner{} })

	if r.State() != StateIdle {
		t.Fatalf("expected idle, got %v", r.State())
	}
	if err := r.PollReady(); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if r.State() != StateReady {
		t.Fatalf("expected ready state, got %v", r.State())
	}
}

func TestReconnect_EachFailedEntrySurfacesOnce(t *testing.T) {
	inner := &fakeInner{failUntil: 100}
	r := New(func() *fakeInner { return inner })

	err1 := r.PollReady()
	if err1 == nil {
		t.Fatal("expected first failure to surface")
	}
	if r.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", r.State())
	}

	// The next poll immediately retries (Failed -> Connecting); since the
	// inner still fails, this call discovers a fresh failure and surfaces
	// it too rather than going silent.
	err2 := r.PollReady()
	if err2 == nil {
		t.Fatal("expected the retry's failure to surface as well")
	}
}

func TestReconnect_RecoversAfterTransientFailure(t *testing.T) {
	inner := &fakeInner{failUntil: 1}
	r := New(func() *fakeInner { return inner })

	if err := r.PollReady(); err == nil {
		t.Fatal("expected first poll to fail")
	}
	if err := r.PollReady(); err != nil {
		t.Fatalf("expected recovery on second poll, got %v", err)
	}
	if r.State() != StateReady {
		t.Fatalf("expected ready, got %v", r.State())
	}
}

func TestReconnect_CallWhenNotReadyYieldsMarker(t *testing.T) {
	r := New(func() *fakeInner { return &fakeInner{} })

	err := r.Call(func(inner *fakeInner) error { return nil })
	var reconnectErr *domain.ReconnectError
	ok := false
	if re, isRe := err.(*domain.ReconnectError); isRe {
		reconnectErr = re
		ok = true
	}
	if !ok || !reconnectErr.NotReady {
		t.Fatalf("expected NotReady marker, got %v", err)
	}
}
