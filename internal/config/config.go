package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPublicListener  = ":7000"
	DefaultPrivateListener = ":7001"
	DefaultControlListener = ":7002"

	DefaultControlConnectTimeout = 3 * time.Second
	DefaultBackoffFloor          = 5 * time.Second
	DefaultInFlightCap           = 10000
	DefaultMetricsFlushInterval  = 3 * time.Second

	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults for local
// development: static discovery against a single loopback destination, no
// controller connection required.
func DefaultConfig() *Config {
	return &Config{
		Identity: IdentityConfig{
			PodNamespace: "default",
			PodZone:      "local",
		},
		Control: ControlConfig{
			URL:            "",
			ConnectTimeout: DefaultControlConnectTimeout,
			BackoffFloor:   DefaultBackoffFloor,
		},
		Listeners: ListenersConfig{
			Public:  DefaultPublicListener,
			Private: DefaultPrivateListener,
			Control: DefaultControlListener,
		},
		Proxy: ProxyConfig{
			PrivateForwardAddress: "127.0.0.1:8080",
			LoadBalancer:          "priority",
			ConnectTimeout:        5 * time.Second,
			ReconnectBackoff: BackoffConfig{
				Floor:   DefaultBackoffFloor,
				Ceiling: 60 * time.Second,
				Jitter:  0.2,
			},
			InFlightCap: DefaultInFlightCap,
			BufferSize:  64 * 1024,
			MaxRetries:  3,
		},
		Discovery: DiscoveryConfig{
			Type:            "static",
			RefreshInterval: 30 * time.Second,
			Static: StaticDiscoveryConfig{
				Endpoints: []EndpointConfig{
					{
						Authority:     "localhost:7001",
						Address:       "127.0.0.1:7001",
						Priority:      100,
						CheckInterval: 5 * time.Second,
						CheckTimeout:  2 * time.Second,
					},
				},
			},
			DestinationsAutocompleteFQDN: "svc.cluster.local",
		},
		Telemetry: TelemetryConfig{
			FlushInterval: DefaultMetricsFlushInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RateLimits: ServerRateLimits{
				GlobalRequestsPerMinute: 600,
				PerIPRequestsPerMinute:  60,
				BurstSize:               50,
				HealthRequestsPerMinute: 1000,
				CleanupInterval:         5 * time.Minute,
				TrustProxyHeaders:       false,
				TrustedProxyCIDRs: []string{
					"127.0.0.0/8",
					"10.0.0.0/8",
					"172.16.0.0/12",
					"192.168.0.0/16",
				},
			},
			RequestLimits: ServerRequestLimits{
				MaxBodySize:   4 << 20,
				MaxHeaderSize: 1 << 20,
			},
		},
	}
}

// Load loads configuration from file and environment variables. Startup-only
// settings named by the external-interfaces surface — control URL,
// public/private/control listener addresses, private forward address, pod
// namespace, pod zone, the destinations autocomplete FQDN and the metrics
// flush interval — are all bound here; the dataplane packages only ever see
// the already-parsed Config.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("SIDECAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("SIDECAR_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	bindStartupEnvVars(cfg)

	if err := parseTrustedProxyCIDRs(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			// on some platforms this event fires before the file write
			// finishes landing on disk
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}

// bindStartupEnvVars applies the handful of env vars that are read directly
// rather than through viper's struct unmarshal, so a non-empty
// `SIDECAR_CONTROL_URL` (and its siblings) wins over whatever a config file
// set; an empty value is ignored.
func bindStartupEnvVars(cfg *Config) {
	if v := os.Getenv("SIDECAR_CONTROL_URL"); v != "" {
		cfg.Control.URL = v
	}
	if v := os.Getenv("SIDECAR_PUBLIC_LISTENER"); v != "" {
		cfg.Listeners.Public = v
	}
	if v := os.Getenv("SIDECAR_PRIVATE_LISTENER"); v != "" {
		cfg.Listeners.Private = v
	}
	if v := os.Getenv("SIDECAR_CONTROL_LISTENER"); v != "" {
		cfg.Listeners.Control = v
	}
	if v := os.Getenv("SIDECAR_PRIVATE_FORWARD_ADDRESS"); v != "" {
		cfg.Proxy.PrivateForwardAddress = v
	}
	if v := os.Getenv("SIDECAR_POD_NAMESPACE"); v != "" {
		cfg.Identity.PodNamespace = v
	}
	if v := os.Getenv("SIDECAR_POD_ZONE"); v != "" {
		cfg.Identity.PodZone = v
	}
	if v := os.Getenv("SIDECAR_DESTINATIONS_AUTOCOMPLETE_FQDN"); v != "" {
		cfg.Discovery.DestinationsAutocompleteFQDN = v
	}
	if v := os.Getenv("SIDECAR_METRICS_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Telemetry.FlushInterval = d
		}
	}
}

// parseTrustedProxyCIDRs resolves the configured CIDR strings once at load
// time so the rate limiter's hot path never re-parses them per request.
func parseTrustedProxyCIDRs(cfg *Config) error {
	parsed := make([]*net.IPNet, 0, len(cfg.Security.RateLimits.TrustedProxyCIDRs))
	for _, raw := range cfg.Security.RateLimits.TrustedProxyCIDRs {
		_, ipNet, err := net.ParseCIDR(raw)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy CIDR %q: %w", raw, err)
		}
		parsed = append(parsed, ipNet)
	}
	cfg.Security.RateLimits.TrustedProxyCIDRsParsed = parsed
	return nil
}
