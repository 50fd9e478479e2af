// Package buffer implements L7: an unbounded FIFO that queues requests while
// the inner service isn't ready, draining them on a dedicated goroutine once
// it is, plus an in-flight limiter capping concurrent outstanding requests.
// The drain-worker shape follows a goroutine pulling off a job channel
// until told to stop; the queue itself is unbounded rather than
// worker-pool-parallel, drained by a single worker, with bounded-buffer
// backpressure left as a follow-up rather than in scope here.
package buffer

import (
	"sync"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// DefaultInFlightLimit is the hard in-flight cap per bound service when no
// explicit limit is configured.
const DefaultInFlightLimit = 10_000

// readyPollInterval is how often admit() rechecks Inner readiness while
// waiting; Backoff one layer up governs the real retry pacing against a
// genuinely down service, so this only needs to be short enough not to add
// perceptible latency once the service recovers.
const readyPollInterval = 1 * time.Millisecond

// Direction names which side of a Bind a Buffer was spawned for.
type Direction = domain.BufferDirection

const (
	Inbound  = domain.DirectionInbound
	Outbound = domain.DirectionOutbound
)

// job is one queued unit of work: call fn, deliver its result on done.
type job[Req, Resp any] struct {
	req  Req
	done chan<- result[Resp]
}

type result[Resp any] struct {
	resp Resp
	err  error
}

// Inner is the function a Buffer drains jobs into: it must not block
// indefinitely, matching the layered services' "has readiness; accepts one
// request" contract.
type Inner[Req, Resp any] func(req Req) (Resp, error)

// Ready reports whether Inner currently believes it can accept a request;
// the drain worker waits on this before popping the next queued job.
type Ready func() bool

// Spawner starts the drain goroutine by invoking work, and reports whether
// the worker was started. Overridable so tests can simulate a spawn
// failure (surfaced as the concrete BufferSpawnError type) without
// touching real goroutine limits.
type Spawner func(work func()) error

func defaultSpawner(work func()) error {
	go work()
	return nil
}

// Buffer queues requests FIFO while Inner is not ready and admits at most
// its configured limit (DefaultInFlightLimit when unset) concurrently in
// flight once drained.
type Buffer[Req, Resp any] struct {
	inner Inner[Req, Resp]
	ready Ready
	limit int

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []job[Req, Resp]
	closed   bool
	inFlight int

	permits chan struct{} // one buffered slot per unit of the in-flight limit
}

// New constructs a Buffer and starts its drain worker via spawner. If
// spawner reports an error, construction fails with
// *domain.BufferSpawnError, surfaced to the caller as HTTP 500.
func New[Req, Resp any](direction Direction, inner Inner[Req, Resp], ready Ready, limit int, spawner Spawner) (*Buffer[Req, Resp], error) {
	if limit <= 0 {
		limit = DefaultInFlightLimit
	}
	if spawner == nil {
		spawner = defaultSpawner
	}

	b := &Buffer[Req, Resp]{
		inner:   inner,
		ready:   ready,
		limit:   limit,
		permits: make(chan struct{}, limit),
	}
	b.cond = sync.NewCond(&b.mu)

	if err := spawner(b.drainLoop); err != nil {
		return nil, &domain.BufferSpawnError{Direction: direction, Err: err}
	}

	return b, nil
}

// Submit enqueues req FIFO and blocks until the drain worker has waited for
// inner readiness, dispatched req, and handed back its result.
func (b *Buffer[Req, Resp]) Submit(req Req) (Resp, error) {
	var zero Resp

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return zero, &domain.BufferSpawnError{Direction: Inbound, Err: nil}
	}

	done := make(chan result[Resp], 1)
	b.queue = append(b.queue, job[Req, Resp]{req: req, done: done})
	b.cond.Signal()
	b.mu.Unlock()

	r := <-done
	return r.resp, r.err
}

// drainLoop pulls jobs off the queue in FIFO order once Inner reports
// ready, dispatching each to run concurrently so multiple requests can be
// outstanding at once, up to the in-flight limit.
func (b *Buffer[Req, Resp]) drainLoop() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed && len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		j := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		for !b.ready() {
			time.Sleep(readyPollInterval)
		}

		go b.admit(j)
	}
}

// admit claims an in-flight permit and runs the job, or fails immediately
// with Overloaded if the limit is already saturated: over-limit requests
// are a hard reject rather than a further wait.
func (b *Buffer[Req, Resp]) admit(j job[Req, Resp]) {
	select {
	case b.permits <- struct{}{}:
	default:
		j.done <- result[Resp]{err: &domain.ErrOverloaded{Limit: b.limit}}
		return
	}
	b.mu.Lock()
	b.inFlight++
	b.mu.Unlock()

	resp, err := b.inner(j.req)

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	<-b.permits

	j.done <- result[Resp]{resp: resp, err: err}
}

// InFlight returns the current number of requests admitted past the
// in-flight limiter and not yet complete.
func (b *Buffer[Req, Resp]) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Close stops the drain worker once the queue is empty; already-queued
// jobs are still drained before the worker exits.
func (b *Buffer[Req, Resp]) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
