package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// ProxyService is the interface a dispatcher (Inbound or Outbound, L12)
// drives: recognize, bind, forward, report back. Both dispatchers share
// this shape; their "thin policy differences" (default fallback address,
// loop prevention, authority-based resolution) live in the recognizer each
// one configures, not in this interface.
type ProxyService interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (RequestStats, error)
	GetStats(ctx context.Context) (ProxyStats, error)
}

// ProxyStats contains aggregate statistics about the proxy service.
type ProxyStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatency     int64 // in milliseconds
}

// RequestStats carries the per-request instrumentation `bind.rs`'s sensor
// hooks would surface: not just end-to-end latency but the point in the
// layered stack that time was actually spent.
type RequestStats struct {
	RequestID string
	StartTime time.Time
	EndTime   time.Time
	Key       domain.DestinationKey
	TotalBytes int

	Latency             int64 // total end-to-end time
	RequestProcessingMs int64 // time spent in the proxy before the upstream call
	BackendResponseMs   int64 // time for the backend connection to respond with headers
	FirstDataMs         int64 // time from start until first data sent to client
	StreamingMs         int64 // time spent streaming response data
	HeaderProcessingMs  int64 // time spent processing headers
	SelectionMs         int64 // time spent recognizing + binding the destination
}

// DiscoveryClient maintains the streaming RPC channel to the controller
// (L10) and hands out Watches for authorities the recognizer resolves.
// Watch is modelled as a split channel: DiscoveryClient owns the sender,
// callers own the receiver, and neither side holds a strong
// back-reference to the other, so closing a Watch never blocks on
// DiscoveryClient internals.
type DiscoveryClient interface {
	Watch(ctx context.Context, authority string) (Watch, error)
	Close() error
}

// Watch is the subscription handle produced by Discovery for one
// fully-qualified authority. Its lifetime is the lifetime of the routed
// destination: closing it deregisters the authority, and the underlying
// RPC stream is torn down once its reference count reaches zero.
type Watch interface {
	Authority() string
	Endpoints() []*domain.Endpoint
	Updates() <-chan []*domain.Endpoint
	Close()
}

// ReportRequest is one telemetry sample pushed to the controller's
// Telemetry.Report RPC (L13).
type ReportRequest struct {
	Key       domain.DestinationKey
	Stats     RequestStats
	Timestamp time.Time
}

// TelemetryReporter issues the unary Telemetry.Report RPC. Failures are
// logged and discarded; the next tick retries. Reporting never blocks
// discovery progress.
type TelemetryReporter interface {
	Report(ctx context.Context, req ReportRequest) error
}
