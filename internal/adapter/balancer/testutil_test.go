package balancer

import (
	"sync"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/core/ports"
)

// testStatsCollector is a minimal in-memory ports.StatsCollector used to
// exercise the balancer selectors without pulling in the real stats adapter.
type testStatsCollector struct {
	mu          sync.RWMutex
	connections map[string]int64
}

func NewTestStatsCollector() *testStatsCollector {
	return &testStatsCollector{
		connections: make(map[string]int64),
	}
}

func (c *testStatsCollector) RecordRequest(key string, status string, latency time.Duration, bytes int64) {
}

func (c *testStatsCollector) RecordConnection(key string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[key] += int64(delta)
}

func (c *testStatsCollector) RecordSecurityViolation(violation ports.SecurityViolation) {}

func (c *testStatsCollector) RecordDiscovery(authority string, success bool, latency time.Duration) {
}

func (c *testStatsCollector) GetProxyStats() ports.ProxyStats { return ports.ProxyStats{} }

func (c *testStatsCollector) GetEndpointStats() map[string]ports.EndpointStats {
	return map[string]ports.EndpointStats{}
}

func (c *testStatsCollector) GetSecurityStats() ports.SecurityStats { return ports.SecurityStats{} }

func (c *testStatsCollector) GetConnectionStats() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]int64, len(c.connections))
	for k, v := range c.connections {
		stats[k] = v
	}
	return stats
}

// newBalancerTestEndpoint builds an endpoint for selector tests, keyed on a
// synthetic loopback socket address so Key() behaves as it would in
// production.
func newBalancerTestEndpoint(authority string, port int, status domain.EndpointStatus, priority int) *domain.Endpoint {
	return &domain.Endpoint{
		Address:   domain.NewSocketAddress([]byte{127, 0, 0, 1}, port),
		Authority: authority,
		Priority:  priority,
		Status:    status,
	}
}
