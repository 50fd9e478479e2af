package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listeners.Public != DefaultPublicListener {
		t.Errorf("Expected public listener %s, got %s", DefaultPublicListener, cfg.Listeners.Public)
	}
	if cfg.Listeners.Private != DefaultPrivateListener {
		t.Errorf("Expected private listener %s, got %s", DefaultPrivateListener, cfg.Listeners.Private)
	}
	if cfg.Listeners.Control != DefaultControlListener {
		t.Errorf("Expected control listener %s, got %s", DefaultControlListener, cfg.Listeners.Control)
	}

	if cfg.Discovery.Type != "static" {
		t.Errorf("Expected discovery type 'static', got %s", cfg.Discovery.Type)
	}
	if len(cfg.Discovery.Static.Endpoints) != 1 {
		t.Errorf("Expected 1 default endpoint, got %d", len(cfg.Discovery.Static.Endpoints))
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected log format 'json', got %s", cfg.Logging.Format)
	}

	if cfg.Proxy.LoadBalancer != "priority" {
		t.Errorf("Expected load balancer 'priority', got %s", cfg.Proxy.LoadBalancer)
	}
	if cfg.Proxy.InFlightCap != DefaultInFlightCap {
		t.Errorf("Expected in-flight cap %d, got %d", DefaultInFlightCap, cfg.Proxy.InFlightCap)
	}

	if cfg.Control.ConnectTimeout != DefaultControlConnectTimeout {
		t.Errorf("Expected control connect timeout %v, got %v", DefaultControlConnectTimeout, cfg.Control.ConnectTimeout)
	}
	if cfg.Control.BackoffFloor != DefaultBackoffFloor {
		t.Errorf("Expected backoff floor %v, got %v", DefaultBackoffFloor, cfg.Control.BackoffFloor)
	}

	if cfg.Engineering.ShowNerdStats != false {
		t.Error("Expected ShowNerdStats to be false by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() returned unexpected error: %v", err)
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listeners.Public != DefaultPublicListener {
		t.Errorf("Expected default public listener %s, got %s", DefaultPublicListener, cfg.Listeners.Public)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"SIDECAR_PROXY_LOAD_BALANCER": "round-robin",
		"SIDECAR_LOGGING_LEVEL":       "debug",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Proxy.LoadBalancer != "round-robin" {
		t.Errorf("Expected load balancer round-robin from env var, got %s", cfg.Proxy.LoadBalancer)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_WithStartupEnvVars(t *testing.T) {
	testEnvVars := map[string]string{
		"SIDECAR_CONTROL_URL":                    "https://controller.internal:8443",
		"SIDECAR_PUBLIC_LISTENER":                "0.0.0.0:9000",
		"SIDECAR_PRIVATE_LISTENER":                "0.0.0.0:9001",
		"SIDECAR_CONTROL_LISTENER":                "127.0.0.1:9002",
		"SIDECAR_PRIVATE_FORWARD_ADDRESS":        "127.0.0.1:3000",
		"SIDECAR_POD_NAMESPACE":                  "payments",
		"SIDECAR_POD_ZONE":                       "us-east-1a",
		"SIDECAR_DESTINATIONS_AUTOCOMPLETE_FQDN": "svc.prod.local",
		"SIDECAR_METRICS_FLUSH_INTERVAL":         "500ms",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with startup env vars failed: %v", err)
	}

	if cfg.Control.URL != "https://controller.internal:8443" {
		t.Errorf("Expected control URL override, got %s", cfg.Control.URL)
	}
	if cfg.Listeners.Public != "0.0.0.0:9000" {
		t.Errorf("Expected public listener override, got %s", cfg.Listeners.Public)
	}
	if cfg.Listeners.Private != "0.0.0.0:9001" {
		t.Errorf("Expected private listener override, got %s", cfg.Listeners.Private)
	}
	if cfg.Listeners.Control != "127.0.0.1:9002" {
		t.Errorf("Expected control listener override, got %s", cfg.Listeners.Control)
	}
	if cfg.Proxy.PrivateForwardAddress != "127.0.0.1:3000" {
		t.Errorf("Expected private forward address override, got %s", cfg.Proxy.PrivateForwardAddress)
	}
	if cfg.Identity.PodNamespace != "payments" {
		t.Errorf("Expected pod namespace override, got %s", cfg.Identity.PodNamespace)
	}
	if cfg.Identity.PodZone != "us-east-1a" {
		t.Errorf("Expected pod zone override, got %s", cfg.Identity.PodZone)
	}
	if cfg.Discovery.DestinationsAutocompleteFQDN != "svc.prod.local" {
		t.Errorf("Expected FQDN override, got %s", cfg.Discovery.DestinationsAutocompleteFQDN)
	}
	if cfg.Telemetry.FlushInterval != 500*time.Millisecond {
		t.Errorf("Expected flush interval override, got %v", cfg.Telemetry.FlushInterval)
	}
}

func TestConfigValidate_DefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() returned unexpected error: %v", err)
	}
}

func TestConfigValidate_RejectsEmptyFields(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{
			name:        "empty discovery.type",
			modify:      func(c *Config) { c.Discovery.Type = "" },
			errContains: "discovery.type",
		},
		{
			name:        "empty proxy.load_balancer",
			modify:      func(c *Config) { c.Proxy.LoadBalancer = "" },
			errContains: "proxy.load_balancer",
		},
		{
			name:        "controller discovery without control url",
			modify:      func(c *Config) { c.Discovery.Type = "controller"; c.Control.URL = "" },
			errContains: "control.url",
		},
		{
			name:        "zero in-flight cap",
			modify:      func(c *Config) { c.Proxy.InFlightCap = 0 },
			errContains: "in_flight_cap",
		},
		{
			name:        "zero proxy connect timeout",
			modify:      func(c *Config) { c.Proxy.ConnectTimeout = 0 },
			errContains: "connect_timeout",
		},
		{
			name:        "zero telemetry flush interval",
			modify:      func(c *Config) { c.Telemetry.FlushInterval = 0 },
			errContains: "flush_interval",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tc.errContains)
			}
			if !contains(err.Error(), tc.errContains) {
				t.Errorf("Expected error containing %q, got: %v", tc.errContains, err)
			}
		})
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
