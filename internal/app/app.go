package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/thushan/sidecarproxy/internal/adapter/balancer"
	"github.com/thushan/sidecarproxy/internal/adapter/security"
	"github.com/thushan/sidecarproxy/internal/adapter/stats"
	"github.com/thushan/sidecarproxy/internal/adapter/transparency"
	"github.com/thushan/sidecarproxy/internal/app/middleware"
	"github.com/thushan/sidecarproxy/internal/config"
	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/dataplane/bind"
	"github.com/thushan/sidecarproxy/internal/dataplane/discovery"
	"github.com/thushan/sidecarproxy/internal/dataplane/dispatch"
	dataplanerouter "github.com/thushan/sidecarproxy/internal/dataplane/router"
	"github.com/thushan/sidecarproxy/internal/dataplane/telemetry"
	"github.com/thushan/sidecarproxy/internal/logger"
	"github.com/thushan/sidecarproxy/internal/router"
)

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// Application wires every listener the sidecar exposes: the control
// listener (admin/observe HTTP surface) plus the Public (inbound) and
// Private (outbound) data-plane listeners driven by the layered L1-L13
// stack, all sharing one discovery client, stats collector and security
// chain.
type Application struct {
	config *config.Config

	server        *http.Server // control listener
	publicServer  *http.Server // inbound data plane
	privateServer *http.Server // outbound data plane

	logger logger.StyledLogger

	registry        *router.RouteRegistry
	discoveryClient ports.DiscoveryClient
	statsCollector  ports.StatsCollector
	security        *security.Adapters
	reporter        *telemetry.Reporter
	sensors         *telemetry.EventBusSensors
	originalDst     ports.OriginalDstLookup

	defaultInboundAddr *domain.SocketAddress

	startTime time.Time
	errCh     chan error
}

// New wires every listener's shared supporting services (stats, discovery,
// security, the L1-L12 dataplane stack for Public/Private) and the control
// listener's admin route registry.
func New(cfg *config.Config, styledLogger logger.StyledLogger, startTime time.Time) (*Application, error) {
	registry := router.NewRouteRegistry(styledLogger)

	statsCollector := stats.NewCollector(styledLogger)
	discoveryClient, err := newDiscoveryClient(cfg, statsCollector, styledLogger)
	if err != nil {
		return nil, err
	}

	_, securityAdapters := security.NewSecurityServices(cfg, statsCollector, styledLogger)

	server := &http.Server{
		Addr:              cfg.Listeners.Control,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	reporter := telemetry.NewReporter(telemetry.NewLoggingReporter(styledLogger), flushIntervalOrDefault(cfg), styledLogger)
	sensors := telemetry.NewEventBusSensors()

	bindFactory := bind.NewFactory(&net.Dialer{}, sensors, cfg.Proxy.ConnectTimeout, new(atomic.Uint64))
	balancerFactory := balancer.NewFactory(statsCollector)

	var defaultAddr *domain.SocketAddress
	if cfg.Proxy.PrivateForwardAddress != "" {
		if addr, err := domain.ParseSocketAddress(cfg.Proxy.PrivateForwardAddress); err == nil {
			defaultAddr = &addr
		} else {
			styledLogger.Warn("invalid proxy.private_forward_address, inbound default fallback disabled", "value", cfg.Proxy.PrivateForwardAddress, "error", err)
		}
	}

	publicDispatcher := dispatch.NewDispatcher(dataplanerouter.New(bindFactory), "http", statsCollector, styledLogger, cfg.Proxy.InFlightCap, reporter)
	privateDispatcher := dispatch.NewDispatcher(dataplanerouter.New(bindFactory), "http", statsCollector, styledLogger, cfg.Proxy.InFlightCap, reporter)

	inbound := dispatch.NewInbound(publicDispatcher, defaultAddr)
	outbound := dispatch.NewOutbound(privateDispatcher, discoveryClient, balancerFactory, cfg.Proxy.LoadBalancer)

	publicServer := &http.Server{
		Addr:              cfg.Listeners.Public,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		Handler:           proxyHandler(inbound, styledLogger),
	}
	privateServer := &http.Server{
		Addr:              cfg.Listeners.Private,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		Handler:           proxyHandler(outbound, styledLogger),
	}

	originalDst := transparency.New()
	publicServer.ConnContext = serverContextFromConn(originalDst)

	a := &Application{
		config:             cfg,
		server:             server,
		publicServer:       publicServer,
		privateServer:      privateServer,
		logger:             styledLogger,
		registry:           registry,
		discoveryClient:    discoveryClient,
		statsCollector:     statsCollector,
		security:           securityAdapters,
		reporter:           reporter,
		sensors:            sensors,
		originalDst:        originalDst,
		defaultInboundAddr: defaultAddr,
		startTime:          startTime,
		errCh:              make(chan error, 1),
	}

	return a, nil
}

// newDiscoveryClient selects the controller-backed streaming client or the
// static-list client per cfg.Discovery.Type, defaulting to static so a
// config with no discovery section still boots for local development.
func newDiscoveryClient(cfg *config.Config, statsCollector ports.StatsCollector, styledLogger logger.StyledLogger) (ports.DiscoveryClient, error) {
	switch cfg.Discovery.Type {
	case "controller":
		return discovery.NewControllerClient(cfg, statsCollector, styledLogger)
	default:
		return discovery.NewStaticClient(cfg, statsCollector, styledLogger), nil
	}
}

func flushIntervalOrDefault(cfg *config.Config) time.Duration {
	if cfg.Telemetry.FlushInterval > 0 {
		return cfg.Telemetry.FlushInterval
	}
	return 10 * time.Second
}

// proxyHandler adapts a ports.ProxyService into an http.Handler; the
// returned RequestStats are discarded here (GetStats/the control
// listener's status endpoint reads the shared StatsCollector instead).
func proxyHandler(svc ports.ProxyService, log logger.StyledLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.ProxyRequest(r.Context(), w, r); err != nil {
			log.Warn("proxy request failed", "path", r.URL.Path, "error", err)
		}
	}
}

// serverContextFromConn builds the http.Server ConnContext hook that stashes
// a domain.ServerContext (local/remote address, original destination, loop
// prevention) into each connection's requests, the extension slot the
// recognizer reads from.
func serverContextFromConn(lookup ports.OriginalDstLookup) func(ctx context.Context, c net.Conn) context.Context {
	return func(ctx context.Context, c net.Conn) context.Context {
		sc := domain.ServerContext{Protocol: domain.ProtocolHTTP1}

		if local, err := domain.ParseSocketAddress(c.LocalAddr().String()); err == nil {
			sc.Local = local
		}
		if remote, err := domain.ParseSocketAddress(c.RemoteAddr().String()); err == nil {
			sc.Remote = remote
		}
		if origAddr, err := lookup.OriginalDst(c); err == nil {
			if parsed, perr := domain.ParseSocketAddress(origAddr.String()); perr == nil {
				sc.OriginalDst = parsed
			}
		}

		return context.WithValue(ctx, domain.ServerContextKey, sc)
	}
}

// Start brings up the control, Public and Private listeners. Errors from
// ListenAndServe surface asynchronously on errCh rather than blocking the
// caller.
func (a *Application) Start(ctx context.Context) error {
	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("Listener startup error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	a.startWebServer()
	a.startDataPlaneListeners()
	a.reporter.Start(ctx)

	a.logger.Info("sidecarproxy control listener started", "bind", a.server.Addr)
	a.logger.Info("sidecarproxy public listener started", "bind", a.publicServer.Addr)
	a.logger.Info("sidecarproxy private listener started", "bind", a.privateServer.Addr)
	return nil
}

// startDataPlaneListeners brings up Public and Private. Public is wrapped
// in a protocolSniffingListener: a connection whose opening bytes aren't an
// HTTP request line bypasses net/http entirely and is piped by
// dispatch.ForwardTCP instead, the one path in the tree that exercises the
// TCP Forwarder (L11) end to end rather than leaving it reachable only from
// its own package's tests.
func (a *Application) startDataPlaneListeners() {
	go func() {
		ln, err := net.Listen("tcp", a.publicServer.Addr)
		if err != nil {
			a.logger.Error("Public listener error", "error", err)
			a.errCh <- err
			return
		}
		sniffing := &protocolSniffingListener{
			Listener:  ln,
			handleTCP: newTCPForwardHandler(a.originalDst, a.logger),
			logger:    a.logger,
		}
		if err := a.publicServer.Serve(sniffing); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Public listener error", "error", err)
			a.errCh <- err
		}
	}()
	go func() {
		if err := a.privateServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Private listener error", "error", err)
			a.errCh <- err
		}
	}()
}

// Stop tears down every listener and its supporting services.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()

	a.reporter.Stop()
	a.security.Stop()

	if err := a.discoveryClient.Close(); err != nil {
		a.logger.Error("Failed to close discovery client", "error", err)
	}

	var errs []error
	if err := a.publicServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("public listener shutdown error: %w", err))
	}
	if err := a.privateServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("private listener shutdown error: %w", err))
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("control listener shutdown error: %w", err))
	}

	return errors.Join(errs...)
}

func (a *Application) registerRoutes() {
	a.registry.RegisterWithMethod("/internal/health", a.healthHandler, "Health check endpoint", "GET")
	a.registry.RegisterWithMethod("/internal/status", a.statusHandler, "Proxy, destination and security stats", "GET")
}

func (a *Application) startWebServer() {
	mux := http.NewServeMux()

	a.registerRoutes()
	a.registry.WireUpWithSecurityChain(mux, a.security)

	a.server.Handler = middleware.EnhancedLoggingMiddleware(a.logger)(mux)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Control listener error", "error", err)
			a.errCh <- err
		}
	}()
}
