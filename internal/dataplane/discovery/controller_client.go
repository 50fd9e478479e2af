package discovery

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/thushan/sidecarproxy/internal/config"
	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/dataplane/backoff"
	"github.com/thushan/sidecarproxy/internal/dataplane/connect"
	"github.com/thushan/sidecarproxy/internal/dataplane/reconnect"
	"github.com/thushan/sidecarproxy/internal/dataplane/rewrite"
	"github.com/thushan/sidecarproxy/internal/dataplane/timeout"
	"github.com/thushan/sidecarproxy/internal/logger"
)

// DefaultControllerConnectTimeout is the connect deadline applied to the
// control channel's DNSResolveAndConnect layer.
const DefaultControllerConnectTimeout = 3 * time.Second

// DefaultBackoffFloor is the minimum wait Backoff imposes between reconnect
// attempts against a failing controller channel.
const DefaultBackoffFloor = 5 * time.Second

// resyncPollInterval is how often a per-authority loop re-checks channel
// readiness while Backoff holds it in the waiting state.
const resyncPollInterval = 100 * time.Millisecond

// h2Inner is the Reconnect.Inner for the controller's HTTP/2 channel: one
// physical connection, upgraded to a cleartext HTTP/2 (h2c) client
// connection, shared by every authority's Destination.Get stream. There is
// no TLS infrastructure for this internal control-plane channel, so the
// upgrade runs over plain TCP rather than carrying a certificate bundle for
// a link that never leaves the pod's network namespace.
type h2Inner struct {
	dial func(ctx context.Context) (net.Conn, error)

	mu        sync.Mutex
	transport *http2.Transport
	cc        *http2.ClientConn
}

func newH2Inner(dial func(ctx context.Context) (net.Conn, error)) *h2Inner {
	return &h2Inner{dial: dial}
}

// PollReady reports whether the shared HTTP/2 connection is currently
// usable, dialing and upgrading a fresh one if not.
func (h *h2Inner) PollReady() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cc != nil && h.cc.CanTakeNewRequest() {
		return nil
	}

	conn, err := h.dial(context.Background())
	if err != nil {
		return err
	}

	transport := &http2.Transport{AllowHTTP: true}
	cc, err := transport.NewClientConn(conn)
	if err != nil {
		_ = conn.Close()
		return &domain.ProtocolError{Op: "h2_connect", Err: err}
	}

	h.transport = transport
	h.cc = cc
	return nil
}

// roundTrip issues req over the current HTTP/2 connection. Call only while
// PollReady has reported readiness; a caller that races this against a
// connection going bad gets the resulting error fed back through Reconnect
// on its next PollReady.
func (h *h2Inner) roundTrip(req *http.Request) (*http.Response, error) {
	h.mu.Lock()
	cc := h.cc
	h.mu.Unlock()
	if cc == nil {
		return nil, &domain.ReconnectError{NotReady: true}
	}
	return cc.RoundTrip(req)
}

// invalidate discards the current connection so the next PollReady rebuilds
// it, used when a stream read fails mid-flight (the connection survived
// Reconnect's last check but has since gone bad).
func (h *h2Inner) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cc != nil {
		_ = h.cc.Close()
	}
	h.cc = nil
}

// logErrors wraps an Inner, logging each newly discovered error once in
// human-readable form before passing it through unchanged. It sits below
// Backoff in the controller client's stack, so Backoff only ever receives
// an error that has already been logged.
type logErrors struct {
	inner Inner
	log   logger.StyledLogger

	mu      sync.Mutex
	lastMsg string
}

// Inner is the PollReady-only surface logErrors and Backoff both wrap.
type Inner interface {
	PollReady() error
}

func newLogErrors(inner Inner, log logger.StyledLogger) *logErrors {
	return &logErrors{inner: inner, log: log}
}

func (l *logErrors) PollReady() error {
	err := l.inner.PollReady()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		l.lastMsg = ""
		return nil
	}
	msg := err.Error()
	if msg != l.lastMsg {
		l.log.WarnWithEndpoint("controller channel error", "control", "error", msg)
		l.lastMsg = msg
	}
	return err
}

// controllerChannel composes OriginRewriter(Backoff(LogErrors(Reconnect(
// H2Connect(Timeout(DNSResolveAndConnect)))))): Backoff/LogErrors/Reconnect
// gate the shared connection's readiness, and the rewriter fixes every
// stream request's scheme and authority to the controller's own.
type controllerChannel struct {
	reconnect *reconnect.Reconnect[*h2Inner]
	backoff   *backoff.Backoff
	rewriter  rewrite.OriginRewriter
}

func newControllerChannel(dial func(ctx context.Context) (net.Conn, error), rewriter rewrite.OriginRewriter, backoffFloor time.Duration, log logger.StyledLogger) *controllerChannel {
	r := reconnect.New(func() *h2Inner { return newH2Inner(dial) })
	le := newLogErrors(r, log)
	bo := backoff.New(le, backoffFloor)
	return &controllerChannel{reconnect: r, backoff: bo, rewriter: rewriter}
}

// pollReady drives the gated readiness chain; NotReady means Backoff is
// either waiting out its floor or Reconnect hasn't finished connecting yet.
func (c *controllerChannel) pollReady() error {
	return c.backoff.PollReady()
}

// openStream issues the Destination.Get request for authority against the
// controller's fixed origin, returning the streaming response body for the
// caller to decode. The caller must have observed pollReady succeed first.
func (c *controllerChannel) openStream(ctx context.Context, authority string) (*http.Response, error) {
	target := c.rewriter.Rewrite(&url.URL{
		Path:     "/destination.v1.Destination/Get",
		RawQuery: "authority=" + url.QueryEscape(authority),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	callErr := c.reconnect.Call(func(inner *h2Inner) error {
		r, rtErr := inner.roundTrip(req)
		if rtErr != nil {
			return rtErr
		}
		if r.StatusCode != http.StatusOK {
			r.Body.Close()
			return &domain.ProtocolError{Op: "destination_get", Err: fmt.Errorf("unexpected status %d", r.StatusCode)}
		}
		resp = r
		return nil
	})
	return resp, callErr
}

// invalidate forces the shared connection closed, used when a stream read
// fails after pollReady had reported the channel ready.
func (c *controllerChannel) invalidate() {
	_ = c.reconnect.Call(func(inner *h2Inner) error {
		inner.invalidate()
		return errResyncRequired
	})
}

var errResyncRequired = fmt.Errorf("controller stream dropped, resync required")

// wireUpdate is one newline-delimited JSON record read from a Destination.Get
// stream's response body. There is no protobuf/gRPC stack in this proxy's
// dependency set, so the streaming RPC is framed as NDJSON over an HTTP/2
// response body rather than introducing a code-generation dependency for a
// single message shape.
type wireUpdate struct {
	Authority string         `json:"authority"`
	Endpoints []wireEndpoint `json:"endpoints"`
}

type wireEndpoint struct {
	Address  string `json:"address"`
	Priority int    `json:"priority"`
}

func (u wireUpdate) toEndpoints() []*domain.Endpoint {
	out := make([]*domain.Endpoint, 0, len(u.Endpoints))
	for _, ep := range u.Endpoints {
		addr, err := domain.ParseSocketAddress(ep.Address)
		if err != nil {
			continue
		}
		out = append(out, &domain.Endpoint{
			Address:   addr,
			Authority: u.Authority,
			Priority:  ep.Priority,
			Status:    domain.StatusHealthy,
			LastSeen:  time.Now(),
		})
	}
	return out
}

// ControllerClient implements ports.DiscoveryClient by streaming
// Destination.Get against a controller over the gated HTTP/2 channel built
// by controllerChannel, one resync loop per watched authority.
type ControllerClient struct {
	channel  *controllerChannel
	autoFQDN string
	stats    ports.StatsCollector
	logger   logger.StyledLogger

	mu      sync.Mutex
	entries map[string]*controllerEntry

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type controllerEntry struct {
	mu          sync.Mutex
	subscribers map[*watch]struct{}
	cancel      context.CancelFunc
}

// NewControllerClient dials cfg.Control.URL lazily (no I/O happens until the
// first Watch) and builds the gated HTTP/2 channel every watched authority's
// resync loop shares.
func NewControllerClient(cfg *config.Config, stats ports.StatsCollector, log logger.StyledLogger) (*ControllerClient, error) {
	authority, err := controllerAuthority(cfg.Control.URL)
	if err != nil {
		return nil, domain.NewConfigError("control.url", cfg.Control.URL, err.Error())
	}

	connectTimeout := cfg.Control.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultControllerConnectTimeout
	}
	backoffFloor := cfg.Control.BackoffFloor
	if backoffFloor <= 0 {
		backoffFloor = DefaultBackoffFloor
	}

	to := timeout.New(connectTimeout, "connect controller "+authority)
	dialer := connect.New(&net.Dialer{})

	// Resolution happens on every dial attempt, not once at construction:
	// Watch performs no I/O until the first PollReady, and a controller
	// whose address changes between reconnects is picked up automatically.
	dial := func(ctx context.Context) (net.Conn, error) {
		wrapped := timeout.Wrap(to, func(ctx context.Context) (net.Conn, error) {
			sockAddr, err := resolveAuthority(authority)
			if err != nil {
				return nil, &domain.ConnectError{Transport: "unreachable", Err: err}
			}
			return dialer.Dial(ctx, sockAddr)
		})
		return wrapped(ctx)
	}

	channel := newControllerChannel(dial, rewrite.New("http", authority), backoffFloor, log)

	rootCtx, cancel := context.WithCancel(context.Background())
	return &ControllerClient{
		channel:  channel,
		autoFQDN: cfg.Discovery.DestinationsAutocompleteFQDN,
		stats:    stats,
		logger:   log,
		entries:  make(map[string]*controllerEntry),
		rootCtx:  rootCtx,
		cancel:   cancel,
	}, nil
}

func controllerAuthority(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse control url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("control url %q has no host", rawURL)
	}
	return u.Host, nil
}

func resolveAuthority(authority string) (domain.SocketAddress, error) {
	if sa, err := domain.ParseSocketAddress(authority); err == nil {
		return sa, nil
	}
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return domain.SocketAddress{}, err
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return domain.SocketAddress{}, fmt.Errorf("resolve controller host %q: %w", host, err)
	}
	return domain.ParseSocketAddress(net.JoinHostPort(ips[0].String(), portStr))
}

// Watch returns a subscription for authority, spawning a controller resync
// loop on first use and sharing it across every caller watching the same
// authority, mirroring StaticClient's one-poll-loop-per-authority shape.
func (c *ControllerClient) Watch(ctx context.Context, authority string) (ports.Watch, error) {
	authority = c.normaliseAuthority(authority)

	c.mu.Lock()
	e, exists := c.entries[authority]
	if !exists {
		entryCtx, cancel := context.WithCancel(c.rootCtx)
		e = &controllerEntry{subscribers: make(map[*watch]struct{}), cancel: cancel}
		c.entries[authority] = e
		c.wg.Add(1)
		go c.resyncLoop(entryCtx, authority, e)
	}
	c.mu.Unlock()

	e.mu.Lock()
	w := newWatch(authority, nil, nil)
	w.onClose = func() { c.unsubscribe(authority, e, w) }
	e.subscribers[w] = struct{}{}
	e.mu.Unlock()

	return w, nil
}

func (c *ControllerClient) unsubscribe(authority string, e *controllerEntry, w *watch) {
	e.mu.Lock()
	delete(e.subscribers, w)
	empty := len(e.subscribers) == 0
	e.mu.Unlock()

	if empty {
		c.mu.Lock()
		delete(c.entries, authority)
		c.mu.Unlock()
		e.cancel()
	}
}

// resyncLoop keeps one authority's Destination.Get stream open, re-issuing
// it after any drop once the gated channel reports ready again. This is
// the loop Testable Scenario 6 exercises: a mid-stream drop must resync
// within the backoff floor without losing or duplicating updates.
func (c *ControllerClient) resyncLoop(ctx context.Context, authority string, e *controllerEntry) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.channel.pollReady(); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(resyncPollInterval):
			}
			continue
		}

		start := time.Now()
		resp, err := c.channel.openStream(ctx, authority)
		if err != nil {
			if c.stats != nil {
				c.stats.RecordDiscovery(authority, false, time.Since(start))
			}
			continue
		}
		if c.stats != nil {
			c.stats.RecordDiscovery(authority, true, time.Since(start))
		}

		c.consumeStream(ctx, authority, e, resp)
		c.channel.invalidate()
	}
}

// consumeStream reads NDJSON-framed Update records off resp.Body until the
// stream ends, pushing each snapshot to every current subscriber.
func (c *ControllerClient) consumeStream(ctx context.Context, authority string, e *controllerEntry, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var update wireUpdate
		if err := json.Unmarshal([]byte(line), &update); err != nil {
			c.logger.WarnWithEndpoint("discarding malformed discovery update", authority, "error", err)
			continue
		}

		endpoints := update.toEndpoints()
		e.mu.Lock()
		subscribers := make([]*watch, 0, len(e.subscribers))
		for w := range e.subscribers {
			subscribers = append(subscribers, w)
		}
		e.mu.Unlock()
		for _, w := range subscribers {
			w.push(endpoints)
		}
	}
}

func (c *ControllerClient) normaliseAuthority(authority string) string {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if c.autoFQDN != "" && !strings.HasSuffix(authority, c.autoFQDN) && !strings.Contains(authority, ".") {
		authority = authority + "." + c.autoFQDN
	}
	return authority
}

// Close tears down every outstanding resync loop and waits for them to
// return before releasing the shared HTTP/2 connection.
func (c *ControllerClient) Close() error {
	c.cancel()
	c.wg.Wait()
	_ = c.channel.reconnect.Call(func(inner *h2Inner) error {
		inner.invalidate()
		return nil
	})
	return nil
}

var _ ports.DiscoveryClient = (*ControllerClient)(nil)
