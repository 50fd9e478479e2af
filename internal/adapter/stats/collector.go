// Package stats centralises the counters every layer of the data plane
// reports into: request outcomes, active connections, discovery latency and
// security violations. Everything reports here rather than keeping its own
// tally so the control listener's status endpoint has one place to read
// from.
//
// Thread-safe for the concurrency levels the proxy sees (every accepted
// connection touches this on connect/disconnect and request completion).
// Stale destination entries are swept periodically so a long-running process
// watching a rotating set of destinations doesn't leak memory.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/sidecarproxy/internal/core/constants"
	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/logger"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	MaxTrackedDestinations = 100
	DestinationTTL         = 1 * time.Hour
	CleanupInterval        = 5 * time.Minute
)

// Collector implements ports.StatsCollector, keyed by the destination's
// stable string identity (domain.DestinationKey.String() or
// domain.Endpoint.Key()).
type Collector struct {
	logger logger.StyledLogger

	destinations *xsync.Map[string, *destinationData]

	totalRequests      *xsync.Counter
	successfulRequests *xsync.Counter
	failedRequests     *xsync.Counter
	totalLatency       *xsync.Counter

	rateLimitViolations *xsync.Counter
	sizeLimitViolations *xsync.Counter

	uniqueRateLimitedIPs map[string]int64
	securityMu           sync.RWMutex

	lastCleanup int64
	cleanupMu   sync.Mutex
}

type destinationData struct {
	totalRequests      *xsync.Counter
	successfulRequests *xsync.Counter
	failedRequests     *xsync.Counter
	totalBytes         *xsync.Counter
	totalLatency       *xsync.Counter
	key                string
	activeConnections  int64
	minLatency         int64
	maxLatency         int64
	lastUsed           int64
}

func NewCollector(logger logger.StyledLogger) *Collector {
	return &Collector{
		logger:               logger,
		destinations:         xsync.NewMap[string, *destinationData](),
		lastCleanup:          time.Now().UnixNano(),
		totalRequests:        xsync.NewCounter(),
		successfulRequests:   xsync.NewCounter(),
		failedRequests:       xsync.NewCounter(),
		totalLatency:         xsync.NewCounter(),
		rateLimitViolations:  xsync.NewCounter(),
		sizeLimitViolations:  xsync.NewCounter(),
		uniqueRateLimitedIPs: make(map[string]int64),
	}
}

func (c *Collector) RecordRequest(key string, status string, latency time.Duration, bytes int64) {
	now := time.Now().UnixNano()
	latencyMs := latency.Milliseconds()

	c.totalRequests.Inc()
	if status == StatusSuccess {
		c.successfulRequests.Inc()
		c.totalLatency.Add(latencyMs)
	} else {
		c.failedRequests.Inc()
	}

	if key != "" {
		c.updateDestinationStats(key, status, latencyMs, bytes, now)
	}
	c.tryCleanup(now)
}

func (c *Collector) RecordConnection(key string, delta int) {
	if key == "" {
		return
	}
	now := time.Now().UnixNano()
	data := c.getOrInitDestination(key, now)

	if delta > 0 {
		atomic.AddInt64(&data.activeConnections, int64(delta))
		return
	}
	if delta == 0 {
		return
	}
	for {
		current := atomic.LoadInt64(&data.activeConnections)
		newVal := current + int64(delta)
		if newVal < 0 {
			newVal = 0
		}
		if atomic.CompareAndSwapInt64(&data.activeConnections, current, newVal) {
			break
		}
	}
}

func (c *Collector) RecordDiscovery(authority string, success bool, latency time.Duration) {
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	c.logger.Debug("Discovery operation recorded",
		"authority", authority,
		"status", status,
		"latency_ms", latency.Milliseconds())
}

func (c *Collector) RecordSecurityViolation(violation ports.SecurityViolation) {
	switch violation.ViolationType {
	case constants.ViolationRateLimit:
		c.rateLimitViolations.Inc()
		c.recordRateLimitedIP(violation.ClientID)
	case constants.ViolationSizeLimit:
		c.sizeLimitViolations.Inc()
	}
}

func (c *Collector) GetProxyStats() ports.ProxyStats {
	total := c.totalRequests.Value()
	successful := c.successfulRequests.Value()
	failed := c.failedRequests.Value()
	totalLatency := c.totalLatency.Value()

	var avgLatency int64
	if successful > 0 {
		avgLatency = totalLatency / successful
	}

	return ports.ProxyStats{
		TotalRequests:      total,
		SuccessfulRequests: successful,
		FailedRequests:     failed,
		AverageLatency:     avgLatency,
	}
}

func (c *Collector) GetEndpointStats() map[string]ports.EndpointStats {
	stats := make(map[string]ports.EndpointStats)

	c.destinations.Range(func(key string, data *destinationData) bool {
		total := data.totalRequests.Value()
		successful := data.successfulRequests.Value()
		failed := data.failedRequests.Value()
		totalLatency := data.totalLatency.Value()

		var avgLatency int64
		if successful > 0 {
			avgLatency = totalLatency / successful
		}

		var successRate float64
		if total > 0 {
			successRate = float64(successful) / float64(total) * 100
		}

		minLatency := atomic.LoadInt64(&data.minLatency)
		if minLatency == -1 {
			minLatency = 0
		}

		stats[key] = ports.EndpointStats{
			Key:                key,
			ActiveConnections:  atomic.LoadInt64(&data.activeConnections),
			TotalRequests:      total,
			SuccessfulRequests: successful,
			FailedRequests:     failed,
			TotalBytes:         data.totalBytes.Value(),
			AverageLatency:     avgLatency,
			MinLatency:         minLatency,
			MaxLatency:         atomic.LoadInt64(&data.maxLatency),
			LastUsed:           time.Unix(0, atomic.LoadInt64(&data.lastUsed)),
			SuccessRate:        successRate,
		}
		return true
	})

	return stats
}

func (c *Collector) GetSecurityStats() ports.SecurityStats {
	c.securityMu.RLock()
	uniqueIPs := len(c.uniqueRateLimitedIPs)
	c.securityMu.RUnlock()

	return ports.SecurityStats{
		RateLimitViolations:  c.rateLimitViolations.Value(),
		SizeLimitViolations:  c.sizeLimitViolations.Value(),
		UniqueRateLimitedIPs: uniqueIPs,
	}
}

func (c *Collector) GetConnectionStats() map[string]int64 {
	stats := make(map[string]int64)
	c.destinations.Range(func(key string, data *destinationData) bool {
		stats[key] = atomic.LoadInt64(&data.activeConnections)
		return true
	})
	return stats
}

func (c *Collector) recordRateLimitedIP(clientIP string) {
	now := time.Now().UnixNano()
	cutoff := now - int64(time.Hour)

	c.securityMu.Lock()
	c.uniqueRateLimitedIPs[clientIP] = now
	for ip, ts := range c.uniqueRateLimitedIPs {
		if ts < cutoff {
			delete(c.uniqueRateLimitedIPs, ip)
		}
	}
	c.securityMu.Unlock()
}

func (c *Collector) updateDestinationStats(key string, status string, latencyMs, bytes int64, now int64) {
	data := c.getOrInitDestination(key, now)

	data.totalRequests.Inc()
	data.totalBytes.Add(bytes)
	atomic.StoreInt64(&data.lastUsed, now)

	if status == StatusSuccess {
		data.successfulRequests.Inc()
		data.totalLatency.Add(latencyMs)
		c.updateLatencyBounds(data, latencyMs)
	} else {
		data.failedRequests.Inc()
	}
}

func (c *Collector) updateLatencyBounds(data *destinationData, latencyMs int64) {
	for {
		minLatency := atomic.LoadInt64(&data.minLatency)
		if minLatency == -1 || latencyMs < minLatency {
			if atomic.CompareAndSwapInt64(&data.minLatency, minLatency, latencyMs) {
				break
			}
		} else {
			break
		}
	}
	for {
		maxLatency := atomic.LoadInt64(&data.maxLatency)
		if latencyMs > maxLatency {
			if atomic.CompareAndSwapInt64(&data.maxLatency, maxLatency, latencyMs) {
				break
			}
		} else {
			break
		}
	}
}

func (c *Collector) getOrInitDestination(key string, now int64) *destinationData {
	data, _ := c.destinations.LoadOrCompute(key, func() (*destinationData, bool) {
		return &destinationData{
			key:                key,
			lastUsed:           now,
			minLatency:         -1,
			totalRequests:      xsync.NewCounter(),
			successfulRequests: xsync.NewCounter(),
			failedRequests:     xsync.NewCounter(),
			totalBytes:         xsync.NewCounter(),
			totalLatency:       xsync.NewCounter(),
		}, false
	})
	return data
}

func (c *Collector) tryCleanup(now int64) {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	if now-atomic.LoadInt64(&c.lastCleanup) < int64(CleanupInterval) {
		return
	}
	c.cleanup(now)
	atomic.StoreInt64(&c.lastCleanup, now)
}

func (c *Collector) cleanup(now int64) {
	cutoff := now - int64(DestinationTTL)
	var toRemove []string
	var count int

	c.destinations.Range(func(key string, data *destinationData) bool {
		count++
		if atomic.LoadInt64(&data.lastUsed) < cutoff {
			toRemove = append(toRemove, key)
		}
		return true
	})

	for _, key := range toRemove {
		c.destinations.Delete(key)
	}

	if count-len(toRemove) > MaxTrackedDestinations {
		type destAge struct {
			key  string
			time int64
		}
		var ages []destAge
		c.destinations.Range(func(key string, data *destinationData) bool {
			ages = append(ages, destAge{key, atomic.LoadInt64(&data.lastUsed)})
			return true
		})
		sort.Slice(ages, func(i, j int) bool {
			return ages[i].time < ages[j].time
		})
		remove := len(ages) - MaxTrackedDestinations + 20
		for i := 0; i < remove && i < len(ages); i++ {
			c.destinations.Delete(ages[i].key)
		}
		c.logger.Debug("Cleaned up old destination stats", "removed", remove, "remaining", len(ages)-remove)
	}
}
