// Package protocol implements L3: a request/response channel speaking
// HTTP/1 or HTTP/2 over a connection Connect produces. Connection
// management (keep-alive, multiplexing) is delegated to net/http's
// transport; transparency-layer internals stay opaque to the core
// forwarding path.
package protocol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// ConnectFactory produces one connection on demand, matching L2's Connect
// shape. Client calls it each time its transport needs a fresh connection.
type ConnectFactory func(ctx context.Context) (net.Conn, error)

// Client wraps one http.RoundTripper scoped to a single Destination Key. It
// exposes PollReady/Call in the shape every layered service shares: "has
// readiness; accepts one request; yields one response future".
type Client struct {
	protocol  domain.ProtocolTag
	transport http.RoundTripper

	ready int32 // atomic bool, flipped to 0 on any call error
}

// New builds a Client for the given Protocol Tag, dialing connections via
// connectFn. Both tags use an http.Transport; the HTTP/2 one sets
// ForceAttemptHTTP2, but http.Transport negotiates HTTP/2 only over TLS, so
// over connectFn's plain connections both tags send HTTP/1.1 and requests
// are not multiplexed over one connection.
func New(tag domain.ProtocolTag, connectFn ConnectFactory) *Client {
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return connectFn(ctx)
	}

	var transport http.RoundTripper
	if tag == domain.ProtocolHTTP2 {
		transport = &http.Transport{
			DialContext:       dialContext,
			ForceAttemptHTTP2: true,
		}
	} else {
		transport = &http.Transport{
			DialContext: dialContext,
		}
	}

	return &Client{
		protocol:  tag,
		transport: transport,
		ready:     1,
	}
}

// PollReady reports whether the client currently believes it can accept a
// request. A prior call failure flips this to false until Reconnect rebuilds
// the client: on connection loss it signals not-ready until rebuilt.
func (c *Client) PollReady() error {
	if atomic.LoadInt32(&c.ready) == 0 {
		return &domain.ProtocolError{Op: "poll_ready", Err: fmt.Errorf("client not ready")}
	}
	return nil
}

// Call issues one request and returns its response. A transport-level
// failure marks the client not-ready so the owning Reconnect tears it down
// on the next PollReady.
func (c *Client) Call(req *http.Request) (*http.Response, error) {
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		atomic.StoreInt32(&c.ready, 0)
		return nil, &domain.ProtocolError{Op: "call", Err: err}
	}
	return resp, nil
}

// Protocol returns the Protocol Tag this client was built for.
func (c *Client) Protocol() domain.ProtocolTag {
	return c.protocol
}

// Close releases any idle connections held by the underlying transport.
func (c *Client) Close() {
	if t, ok := c.transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
