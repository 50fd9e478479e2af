package discovery

import (
	"sync"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// watch implements ports.Watch as a split channel: the client owns the send
// side (set via push), callers only ever read Updates() and call Close().
// Neither side holds a strong back-reference to the other, so closing a
// watch never blocks on client internals.
type watch struct {
	authority string

	mu        sync.RWMutex
	endpoints []*domain.Endpoint

	updates chan []*domain.Endpoint

	refCount int
	onClose  func()
	closed   bool
	closeMu  sync.Mutex
}

func newWatch(authority string, initial []*domain.Endpoint, onClose func()) *watch {
	return &watch{
		authority: authority,
		endpoints: initial,
		updates:   make(chan []*domain.Endpoint, 1),
		refCount:  1,
		onClose:   onClose,
	}
}

func (w *watch) Authority() string {
	return w.authority
}

func (w *watch) Endpoints() []*domain.Endpoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*domain.Endpoint, len(w.endpoints))
	copy(out, w.endpoints)
	return out
}

func (w *watch) Updates() <-chan []*domain.Endpoint {
	return w.updates
}

// push replaces the current snapshot and notifies any listener. Non-blocking:
// a reader that hasn't drained the previous update loses it in favour of the
// newer snapshot, since only the latest state matters.
func (w *watch) push(endpoints []*domain.Endpoint) {
	w.mu.Lock()
	w.endpoints = endpoints
	w.mu.Unlock()

	select {
	case w.updates <- endpoints:
	default:
		select {
		case <-w.updates:
		default:
		}
		select {
		case w.updates <- endpoints:
		default:
		}
	}
}

// Close deregisters one reference to this watch. The underlying poll loop is
// torn down by the owning client once the reference count reaches zero.
func (w *watch) Close() {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.onClose != nil {
		w.onClose()
	}
}
