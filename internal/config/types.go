package config

import (
	"fmt"
	"net"
	"time"
)

// Config holds all configuration for the sidecar data-plane process.
type Config struct {
	Identity  IdentityConfig  `yaml:"identity"`
	Control   ControlConfig   `yaml:"control"`
	Listeners ListenersConfig `yaml:"listeners"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`

	Engineering EngineeringConfig `yaml:"engineering"`
}

// IdentityConfig carries the pod-level identity loaded at startup. No
// controller request (Destination.Get or Telemetry.Report) carries these
// values; they are held in the config only.
type IdentityConfig struct {
	PodNamespace string `yaml:"pod_namespace"`
	PodZone      string `yaml:"pod_zone"`
}

// ControlConfig describes how to reach the controller's RPC surface.
type ControlConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BackoffFloor   time.Duration `yaml:"backoff_floor"`
}

// ListenersConfig holds the three sockets the proxy exposes.
type ListenersConfig struct {
	Public  string `yaml:"public"`  // inbound data plane
	Private string `yaml:"private"` // outbound data plane
	Control string `yaml:"control"` // admin/observe
}

// ProxyConfig holds data-plane forwarding behaviour.
type ProxyConfig struct {
	// PrivateForwardAddress is the Inbound dispatcher's default address:
	// where public-listener traffic lands when no Server Context yields an
	// original destination (loopback to the application container).
	PrivateForwardAddress string `yaml:"private_forward_address"`

	LoadBalancer     string        `yaml:"load_balancer"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReconnectBackoff BackoffConfig `yaml:"reconnect_backoff"`
	InFlightCap      int           `yaml:"in_flight_cap"`
	BufferSize       int           `yaml:"buffer_size"`
	MaxRetries       int           `yaml:"max_retries"`
}

// BackoffConfig is loaded from proxy.reconnect_backoff but not read by the
// dataplane: reconnect backoff is a fixed wait of Control.BackoffFloor, with
// no ceiling and no jitter.
type BackoffConfig struct {
	Floor   time.Duration `yaml:"floor"`
	Ceiling time.Duration `yaml:"ceiling"`
	Jitter  float64       `yaml:"jitter"`
}

// DiscoveryConfig holds destination-discovery configuration.
type DiscoveryConfig struct {
	// Type selects between the controller-backed stream and a static list
	// used for local development and tests.
	Type            string                `yaml:"type"`
	RefreshInterval time.Duration         `yaml:"refresh_interval"`
	Static          StaticDiscoveryConfig `yaml:"static"`

	// DestinationsAutocompleteFQDN is appended to bare authorities before
	// they are sent to Destination.Get, mirroring the cluster-local DNS
	// suffix convention.
	DestinationsAutocompleteFQDN string `yaml:"destinations_autocomplete_fqdn"`
}

// StaticDiscoveryConfig holds a fixed endpoint list, used when Type is
// "static" instead of streaming from the controller.
type StaticDiscoveryConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig describes one statically configured destination endpoint.
type EndpointConfig struct {
	Authority     string        `yaml:"authority"`
	Address       string        `yaml:"address"`
	Priority      int           `yaml:"priority"`
	CheckInterval time.Duration `yaml:"check_interval"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
}

// TelemetryConfig holds the metrics reporting cadence.
type TelemetryConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig protects the control listener's admin/observe surface.
type SecurityConfig struct {
	RateLimits    ServerRateLimits    `yaml:"rate_limits"`
	RequestLimits ServerRequestLimits `yaml:"request_limits"`
}

// ServerRateLimits bounds admin/observe traffic on the control listener.
type ServerRateLimits struct {
	GlobalRequestsPerMinute int           `yaml:"global_requests_per_minute"`
	PerIPRequestsPerMinute  int           `yaml:"per_ip_requests_per_minute"`
	BurstSize               int           `yaml:"burst_size"`
	HealthRequestsPerMinute int           `yaml:"health_requests_per_minute"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	TrustProxyHeaders       bool          `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs       []string      `yaml:"trusted_proxy_cidrs"`

	// TrustedProxyCIDRsParsed is populated from TrustedProxyCIDRs after load;
	// the dataplane reads only this field.
	TrustedProxyCIDRsParsed []*net.IPNet `yaml:"-"`
}

// ServerRequestLimits defines request size limits on the control listener.
type ServerRequestLimits struct {
	MaxBodySize   int64 `yaml:"max_body_size"`
	MaxHeaderSize int64 `yaml:"max_header_size"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}

// Validate rejects configurations that would panic or deadlock at runtime
// rather than failing loudly during startup.
func (c *Config) Validate() error {
	if c.Listeners.Public == "" {
		return fmt.Errorf("listeners.public must not be empty")
	}
	if c.Listeners.Private == "" {
		return fmt.Errorf("listeners.private must not be empty")
	}
	if c.Discovery.Type == "" {
		return fmt.Errorf("discovery.type must not be empty")
	}
	if c.Proxy.LoadBalancer == "" {
		return fmt.Errorf("proxy.load_balancer must not be empty")
	}
	if c.Control.URL == "" && c.Discovery.Type == "controller" {
		return fmt.Errorf("control.url must be set when discovery.type is %q", "controller")
	}
	if c.Proxy.InFlightCap <= 0 {
		return fmt.Errorf("proxy.in_flight_cap must be positive")
	}
	if c.Proxy.ConnectTimeout <= 0 {
		return fmt.Errorf("proxy.connect_timeout must be positive")
	}
	if c.Control.ConnectTimeout <= 0 {
		return fmt.Errorf("control.connect_timeout must be positive")
	}
	if c.Telemetry.FlushInterval <= 0 {
		return fmt.Errorf("telemetry.flush_interval must be positive")
	}
	return nil
}
