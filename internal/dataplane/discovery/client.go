// Package discovery implements the L10 Discovery Client: it hands out
// Watches for fully-qualified authorities and keeps each Watch's endpoint
// set current. Two modes implement ports.DiscoveryClient: StaticClient
// (this file), which periodically TCP-probes a fixed config list and suits
// local development and tests, and ControllerClient
// (controller_client.go), which streams Destination.Get over a gated
// HTTP/2 channel to a real controller.
package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/thushan/sidecarproxy/internal/config"
	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/logger"
)

const (
	DefaultCheckInterval   = 5 * time.Second
	DefaultCheckTimeout    = 2 * time.Second
	DefaultConcurrentProbe = 8
)

// candidate is one statically configured destination that may back an
// authority, carried alongside the live domain.Endpoint it's checked into.
type candidate struct {
	cfg      config.EndpointConfig
	endpoint *domain.Endpoint
}

type entry struct {
	mu          sync.Mutex
	authority   string
	candidates  []*candidate
	subscribers map[*watch]struct{}
	cancel      context.CancelFunc
}

// StaticClient implements ports.DiscoveryClient against a fixed endpoint
// list supplied by config, continuously re-checking reachability so a
// Watch's endpoint set reflects live status rather than the static config
// verbatim.
type StaticClient struct {
	endpoints []config.EndpointConfig
	autoFQDN  string

	stats  ports.StatsCollector
	logger logger.StyledLogger

	entries *xsync.Map[string, *entry]

	rootCtx context.Context
	cancel  context.CancelFunc
}

// NewStaticClient builds a StaticClient from the discovery section of Config.
func NewStaticClient(cfg *config.Config, stats ports.StatsCollector, log logger.StyledLogger) *StaticClient {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &StaticClient{
		endpoints: cfg.Discovery.Static.Endpoints,
		autoFQDN:  cfg.Discovery.DestinationsAutocompleteFQDN,
		stats:     stats,
		logger:    log,
		entries:   xsync.NewMap[string, *entry](),
		rootCtx:   rootCtx,
		cancel:    cancel,
	}
}

// Watch returns a subscription for the given authority. The authority is
// normalised (lower-cased, FQDN suffix applied if it's bare) before matching
// against the configured candidate list, mirroring the "fully qualified
// authority" handling the recognizer performs before calling here.
func (c *StaticClient) Watch(ctx context.Context, authority string) (ports.Watch, error) {
	authority = c.normaliseAuthority(authority)

	e, _ := c.entries.LoadOrCompute(authority, func() (*entry, bool) {
		candidates := c.matchCandidates(authority)
		entryCtx, cancel := context.WithCancel(c.rootCtx)
		newEntry := &entry{
			authority:   authority,
			candidates:  candidates,
			subscribers: make(map[*watch]struct{}),
			cancel:      cancel,
		}
		go c.pollLoop(entryCtx, newEntry)
		return newEntry, false
	})

	e.mu.Lock()
	initial := snapshotEndpoints(e.candidates)
	w := newWatch(authority, initial, nil)
	w.onClose = func() { c.unsubscribe(authority, e, w) }
	e.subscribers[w] = struct{}{}
	e.mu.Unlock()

	return w, nil
}

func (c *StaticClient) unsubscribe(authority string, e *entry, w *watch) {
	e.mu.Lock()
	delete(e.subscribers, w)
	empty := len(e.subscribers) == 0
	e.mu.Unlock()

	if empty {
		e.cancel()
		c.entries.Delete(authority)
	}
}

// Close tears down every outstanding poll loop. Individual Watches remain
// safe to call Close on afterwards.
func (c *StaticClient) Close() error {
	c.cancel()
	return nil
}

func (c *StaticClient) normaliseAuthority(authority string) string {
	authority = strings.ToLower(strings.TrimSpace(authority))
	if c.autoFQDN != "" && !strings.HasSuffix(authority, c.autoFQDN) && !strings.Contains(authority, ".") {
		authority = authority + "." + c.autoFQDN
	}
	return authority
}

func (c *StaticClient) matchCandidates(authority string) []*candidate {
	var out []*candidate
	for _, ep := range c.endpoints {
		if c.normaliseAuthority(ep.Authority) != authority {
			continue
		}
		addr, err := domain.ParseSocketAddress(ep.Address)
		if err != nil {
			c.logger.Warn("Skipping endpoint with invalid address", "authority", ep.Authority, "address", ep.Address, "error", err)
			continue
		}
		out = append(out, &candidate{
			cfg: ep,
			endpoint: &domain.Endpoint{
				Address:   addr,
				Authority: authority,
				Priority:  ep.Priority,
				Status:    domain.StatusUnknown,
			},
		})
	}
	return out
}

func (c *StaticClient) pollLoop(ctx context.Context, e *entry) {
	interval := DefaultCheckInterval
	if len(e.candidates) > 0 && e.candidates[0].cfg.CheckInterval > 0 {
		interval = e.candidates[0].cfg.CheckInterval
	}

	c.probe(ctx, e)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx, e)
		}
	}
}

// probe concurrently re-checks every candidate for this authority, bounded
// by DefaultConcurrentProbe, and pushes the refreshed snapshot to every
// subscriber whose Updates() channel is listening.
func (c *StaticClient) probe(ctx context.Context, e *entry) {
	e.mu.Lock()
	candidates := e.candidates
	e.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	limit := DefaultConcurrentProbe
	if limit > len(candidates) {
		limit = len(candidates)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for _, cand := range candidates {
		cand := cand
		eg.Go(func() error {
			c.checkOne(egCtx, cand)
			return nil
		})
	}
	_ = eg.Wait() // checkOne never returns an error; Wait just joins the group

	e.mu.Lock()
	snapshot := snapshotEndpoints(e.candidates)
	subscribers := make([]*watch, 0, len(e.subscribers))
	for w := range e.subscribers {
		subscribers = append(subscribers, w)
	}
	e.mu.Unlock()

	for _, w := range subscribers {
		w.push(snapshot)
	}
}

func (c *StaticClient) checkOne(ctx context.Context, cand *candidate) {
	timeout := DefaultCheckTimeout
	if cand.cfg.CheckTimeout > 0 {
		timeout = cand.cfg.CheckTimeout
	}

	start := time.Now()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cand.endpoint.Address.String())
	latency := time.Since(start)

	success := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	if c.stats != nil {
		c.stats.RecordDiscovery(cand.endpoint.Authority, success, latency)
	}

	if success {
		cand.endpoint.Status = domain.StatusHealthy
		cand.endpoint.ConsecutiveFailures = 0
		cand.endpoint.LastLatency = latency
	} else {
		cand.endpoint.ConsecutiveFailures++
		if cand.endpoint.ConsecutiveFailures >= 3 {
			cand.endpoint.Status = domain.StatusOffline
		} else {
			cand.endpoint.Status = domain.StatusDegraded
		}
	}
	cand.endpoint.LastSeen = time.Now()
}

func snapshotEndpoints(candidates []*candidate) []*domain.Endpoint {
	out := make([]*domain.Endpoint, 0, len(candidates))
	for _, cand := range candidates {
		epCopy := *cand.endpoint
		out = append(out, &epCopy)
	}
	return out
}

var _ ports.DiscoveryClient = (*StaticClient)(nil)
