// Package dispatch implements L12: the Inbound and Outbound dispatchers.
// Both share the same recognize -> bind -> buffer -> rewrite -> call shape
// (ports.ProxyService); their only difference is how each resolves a
// Destination Key (inbound: Server Context + default address; outbound:
// authority via a Discovery Watch + balancer).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/sidecarproxy/internal/adapter/balancer"
	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/dataplane/bind"
	"github.com/thushan/sidecarproxy/internal/dataplane/buffer"
	"github.com/thushan/sidecarproxy/internal/dataplane/forward"
	"github.com/thushan/sidecarproxy/internal/dataplane/rewrite"
	"github.com/thushan/sidecarproxy/internal/dataplane/router"
	"github.com/thushan/sidecarproxy/internal/dataplane/telemetry"
	"github.com/thushan/sidecarproxy/internal/logger"
)

// callBuffer is what each Destination Key's Buffer carries: one full HTTP
// round trip through its Bound Service, keyed by the Req/Resp pair
// *http.Request/*http.Response.
type callBuffer = *buffer.Buffer[*http.Request, *http.Response]

// Dispatcher is the shared machinery both Inbound and Outbound wrap: a
// Router for recognize+bind, one lazily created request Buffer per
// Destination Key, and the rewriter/stats/logging every forwarded request
// passes through.
type Dispatcher struct {
	router      *router.Router
	rewriteTo   string // "http" or "https"; fixed per proxy side
	stats       ports.StatsCollector
	log         logger.StyledLogger
	bufferLimit int
	reporter    *telemetry.Reporter // optional; nil disables per-request reporting

	buffers *xsync.Map[domain.DestinationKey, callBuffer]
}

// NewDispatcher builds the shared Inbound/Outbound machinery. scheme is the
// fixed origin scheme the Origin Rewriter assigns to every forwarded
// request. reporter may be nil when L13 reporting isn't wired for this
// proxy side.
func NewDispatcher(rt *router.Router, scheme string, stats ports.StatsCollector, log logger.StyledLogger, bufferLimit int, reporter *telemetry.Reporter) *Dispatcher {
	if scheme == "" {
		scheme = "http"
	}
	return &Dispatcher{
		router:      rt,
		rewriteTo:   scheme,
		stats:       stats,
		log:         log,
		bufferLimit: bufferLimit,
		reporter:    reporter,
		buffers:     xsync.NewMap[domain.DestinationKey, callBuffer](),
	}
}

// bufferFor returns this key's Buffer, lazily spawning its drain worker on
// first use via bind.Service.PollReady/Call as the Buffer's Inner/Ready.
func (d *Dispatcher) bufferFor(key domain.DestinationKey, svc *bind.Service, direction buffer.Direction) (callBuffer, error) {
	buf, loaded := d.buffers.Load(key)
	if loaded {
		return buf, nil
	}

	inner := func(req *http.Request) (*http.Response, error) {
		return svc.Call(req)
	}
	ready := func() bool {
		return svc.PollReady() == nil
	}

	newBuf, err := buffer.New[*http.Request, *http.Response](direction, inner, ready, d.bufferLimit, nil)
	if err != nil {
		return nil, err
	}

	actual, _ := d.buffers.LoadOrStore(key, newBuf)
	return actual, nil
}

// forward rewrites req's origin to key's destination and submits it through
// that key's Bound Service via its Buffer, recording stats either way and,
// if a Reporter is wired, staging the sample for the next L13 flush.
func (d *Dispatcher) forward(ctx context.Context, key domain.DestinationKey, direction buffer.Direction, req *http.Request, stats *ports.RequestStats) (*http.Response, error) {
	start := time.Now()

	svc := d.router.BindService(key)
	buf, err := d.bufferFor(key, svc, direction)
	if err != nil {
		d.stats.RecordRequest(key.String(), "error", time.Since(start), 0)
		return nil, err
	}

	target := rewrite.New(d.rewriteTo, key.Addr.String()).Rewrite(req.URL)
	outReq := req.Clone(ctx)
	outReq.URL = target
	outReq.RequestURI = ""
	outReq.Host = key.Addr.String()

	resp, err := buf.Submit(outReq)

	latency := time.Since(start)
	stats.BackendResponseMs = latency.Milliseconds()

	if err != nil {
		d.stats.RecordRequest(key.String(), "error", latency, 0)
		d.log.Warn("forward failed", "destination", key.String(), "error", err)
		if d.reporter != nil {
			d.reporter.Enqueue(ports.ReportRequest{Key: key, Stats: *stats, Timestamp: start})
		}
		return nil, err
	}

	d.stats.RecordRequest(key.String(), "ok", latency, resp.ContentLength)
	if d.reporter != nil {
		d.reporter.Enqueue(ports.ReportRequest{Key: key, Stats: *stats, Timestamp: start})
	}
	return resp, nil
}

// writeResponse copies a forwarded response's status, headers and body to
// the original ResponseWriter.
func writeResponse(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	_, err := io.Copy(w, resp.Body)
	return err
}

// ErrNoRoute is returned when a request cannot be recognized into any
// Destination Key: no Server Context and no default address (inbound), or an
// empty Host (outbound). No healthy outbound endpoint is reported as a 503
// load-balancer error instead.
var ErrNoRoute = errors.New("no destination could be recognized for this request")

// Inbound implements ports.ProxyService for the public listener: recognize
// via Server Context + loop prevention + default address, bind, and
// forward.
type Inbound struct {
	*Dispatcher
	defaultAddr *domain.SocketAddress
}

// NewInbound wraps a Dispatcher for the inbound (public-listener) side.
// defaultAddr may be nil; it is the fallback target used when a connection
// has no usable original destination.
func NewInbound(d *Dispatcher, defaultAddr *domain.SocketAddress) *Inbound {
	return &Inbound{Dispatcher: d, defaultAddr: defaultAddr}
}

// ProxyRequest recognizes, binds and forwards one inbound HTTP request.
func (in *Inbound) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (ports.RequestStats, error) {
	selectStart := time.Now()
	key, ok := router.Recognize(r, in.defaultAddr)
	stats := ports.RequestStats{StartTime: selectStart, Key: key}
	if !ok {
		http.Error(w, "no route", http.StatusBadGateway)
		return stats, ErrNoRoute
	}
	stats.SelectionMs = time.Since(selectStart).Milliseconds()

	resp, err := in.forward(ctx, key, buffer.Inbound, r, &stats)
	if err != nil {
		stats.EndTime = time.Now()
		writeForwardError(w, err)
		return stats, err
	}

	if err := writeResponse(w, resp); err != nil {
		stats.EndTime = time.Now()
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Latency = stats.EndTime.Sub(stats.StartTime).Milliseconds()
	return stats, nil
}

// GetStats reports proxy-wide counters for the inbound side, sourced from
// the shared StatsCollector.
func (in *Inbound) GetStats(ctx context.Context) (ports.ProxyStats, error) {
	return in.Dispatcher.stats.GetProxyStats(), nil
}

// Outbound implements ports.ProxyService for the private (egress) listener:
// resolve the Host header's authority through a Discovery Watch, select a
// candidate endpoint via the configured balancer strategy, bind and
// forward.
type Outbound struct {
	*Dispatcher
	discovery    ports.DiscoveryClient
	balancers    *balancer.Factory
	balancerName string
}

// NewOutbound wraps a Dispatcher for the outbound (egress) side.
func NewOutbound(d *Dispatcher, discovery ports.DiscoveryClient, balancers *balancer.Factory, balancerName string) *Outbound {
	if balancerName == "" {
		balancerName = balancer.DefaultBalancerRoundRobin
	}
	return &Outbound{Dispatcher: d, discovery: discovery, balancers: balancers, balancerName: balancerName}
}

// ProxyRequest resolves the Host header by authority, selects an endpoint,
// and forwards one outbound HTTP request.
func (out *Outbound) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (ports.RequestStats, error) {
	selectStart := time.Now()

	authority := r.Host
	if authority == "" {
		http.Error(w, "no route", http.StatusBadGateway)
		return ports.RequestStats{StartTime: selectStart}, ErrNoRoute
	}

	watch, err := out.discovery.Watch(ctx, authority)
	if err != nil {
		http.Error(w, "no route", http.StatusBadGateway)
		return ports.RequestStats{StartTime: selectStart}, fmt.Errorf("watch %s: %w", authority, err)
	}

	selector, err := out.balancers.Create(out.balancerName)
	if err != nil {
		http.Error(w, "no route", http.StatusBadGateway)
		return ports.RequestStats{StartTime: selectStart}, err
	}

	endpoint, err := selector.Select(watch.Endpoints())
	if err != nil {
		http.Error(w, "no healthy endpoint", http.StatusServiceUnavailable)
		return ports.RequestStats{StartTime: selectStart}, &domain.LoadBalancerError{
			Err: err, Strategy: selector.Name(), EndpointCount: len(watch.Endpoints()),
		}
	}

	key := router.RecognizeOutbound(endpoint.Address, r)
	stats := ports.RequestStats{StartTime: selectStart, Key: key}
	stats.SelectionMs = time.Since(selectStart).Milliseconds()

	selector.IncrementConnections(endpoint)
	resp, err := out.forward(ctx, key, buffer.Outbound, r, &stats)
	selector.DecrementConnections(endpoint)

	if err != nil {
		stats.EndTime = time.Now()
		writeForwardError(w, err)
		return stats, err
	}

	if err := writeResponse(w, resp); err != nil {
		stats.EndTime = time.Now()
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Latency = stats.EndTime.Sub(stats.StartTime).Milliseconds()
	return stats, nil
}

// GetStats reports proxy-wide counters for the outbound side.
func (out *Outbound) GetStats(ctx context.Context) (ports.ProxyStats, error) {
	return out.Dispatcher.stats.GetProxyStats(), nil
}

func writeForwardError(w http.ResponseWriter, err error) {
	var overloaded *domain.ErrOverloaded
	var spawnErr *domain.BufferSpawnError
	switch {
	case errors.As(err, &overloaded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &spawnErr):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

var (
	_ ports.ProxyService = (*Inbound)(nil)
	_ ports.ProxyService = (*Outbound)(nil)
)

// ForwardTCP serves one opaque TCP connection by recognizing its
// destination from the Server Context (the same loop prevention inbound
// HTTP uses), dialing out, and piping bytes bidirectionally until both
// halves shut down. Used for connections whose Protocol Tag is not HTTP:
// TCP never goes through Bind/Buffer, since there is no request/response
// framing to buffer or multiplex.
func ForwardTCP(ctx context.Context, sc domain.ServerContext, in net.Conn, dial func(ctx context.Context, addr domain.SocketAddress) (net.Conn, error)) error {
	addr, ok := sc.OriginalDstIfNotLocal()
	if !ok {
		return ErrNoRoute
	}
	out, err := dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("tcp connect %s: %w", addr, err)
	}
	return forward.Duplex(in, out)
}
