// Package bind implements L8: the factory that composes L1-L4 (timeout,
// connect, protocol client, reconnect) into a
// ready-to-use per-destination Service, following a lazy-construct-once-
// and-reuse pattern for a per-endpoint client rather than a raw pooled
// transport: a client per Destination Key instead of a pool of connections.
package bind

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/dataplane/connect"
	"github.com/thushan/sidecarproxy/internal/dataplane/protocol"
	"github.com/thushan/sidecarproxy/internal/dataplane/reconnect"
	"github.com/thushan/sidecarproxy/internal/dataplane/telemetry"
	"github.com/thushan/sidecarproxy/internal/dataplane/timeout"
)

// sensoredClient wraps protocol.Client so Call routes through the
// Telemetry.http sensor hook point from original_source/bind.rs
// (self.sensors.http(...)) while still satisfying reconnect.Inner via
// PollReady.
type sensoredClient struct {
	client  *protocol.Client
	key     domain.DestinationKey
	sensors telemetry.Sensors
}

func (w *sensoredClient) PollReady() error { return w.client.PollReady() }

func (w *sensoredClient) call(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := w.client.Call(req)
	w.sensors.HTTP(w.key, time.Since(start), err)
	return resp, err
}

// Service is the fully assembled per-destination client stack Bind hands
// back: Reconnect(Telemetry.http(ProtocolClient(Telemetry.connect(Timeout(
// Connect))))). It returns immediately from BindService; no I/O happens
// until the first PollReady/Call.
type Service struct {
	key       domain.DestinationKey
	reconnect *reconnect.Reconnect[*sensoredClient]
}

// PollReady reports whether the stack is currently able to accept a call,
// driving Reconnect's state machine.
func (s *Service) PollReady() error {
	return s.reconnect.PollReady()
}

// Call issues one HTTP request through the fully composed stack.
func (s *Service) Call(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := s.reconnect.Call(func(inner *sensoredClient) error {
		r, callErr := inner.call(req)
		resp = r
		return callErr
	})
	return resp, err
}

// Key returns the Destination Key this Service was bound for.
func (s *Service) Key() domain.DestinationKey {
	return s.key
}

// Factory is configured once with the shared resources every Bound Service
// needs: a dialer, a request-id counter shared across a proxy side, a
// telemetry Sensors sink, and a connect timeout.
type Factory struct {
	dialer         connect.Dialer
	sensors        telemetry.Sensors
	connectTimeout time.Duration
	requestIDs     *atomic.Uint64
}

// NewFactory builds a Bind factory. requestIDs is shared across every
// Service the factory binds: a process-wide atomic monotonic counter.
func NewFactory(dialer connect.Dialer, sensors telemetry.Sensors, connectTimeout time.Duration, requestIDs *atomic.Uint64) *Factory {
	if sensors == nil {
		sensors = telemetry.NoopSensors{}
	}
	if requestIDs == nil {
		requestIDs = new(atomic.Uint64)
	}
	return &Factory{
		dialer:         dialer,
		sensors:        sensors,
		connectTimeout: connectTimeout,
		requestIDs:     requestIDs,
	}
}

// NextRequestID returns the next value of the shared per-proxy-side request
// id counter, attached to each request's logging context.
func (f *Factory) NextRequestID() uint64 {
	return f.requestIDs.Add(1)
}

// BindService composes L2-L4 into one Service for the given Destination
// Key. Returns immediately; the inner client is built lazily on the first
// PollReady (Reconnect's Idle -> Connecting transition).
func (f *Factory) BindService(key domain.DestinationKey) *Service {
	dialer := connect.New(f.dialer)
	to := timeout.New(f.connectTimeout, "connect "+key.Addr.String())

	connectFn := func(ctx context.Context) (net.Conn, error) {
		wrapped := timeout.Wrap(to, func(ctx context.Context) (net.Conn, error) {
			return dialer.Dial(ctx, key.Addr)
		})

		start := time.Now()
		conn, err := wrapped(ctx)
		f.sensors.Connect(key, time.Since(start), err)
		return conn, err
	}

	sensors := f.sensors

	// A fresh protocol.Client is built on every factory invocation (Idle ->
	// Connecting, and again on Failed -> Connecting) so a client whose
	// readiness flag has latched false from an earlier failure is replaced
	// rather than reused: reconnect always rebuilds the inner client.
	r := reconnect.New(func() *sensoredClient {
		return &sensoredClient{client: protocol.New(key.Protocol, connectFn), key: key, sensors: sensors}
	})

	return &Service{key: key, reconnect: r}
}
