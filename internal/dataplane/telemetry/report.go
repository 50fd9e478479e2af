// report.go implements L13: the periodic Telemetry.Report RPC client.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/logger"
)

// Reporter consumes a stream of ports.ReportRequest values and, when the
// report interval elapses and at least one report is pending, issues a
// unary RPC over the controller channel via the injected
// ports.TelemetryReporter. Failures are logged and discarded; the next tick
// retries. Reporter never blocks Discovery's progress: its tick and the
// discovery loop are independent goroutines sharing only the controller
// channel: two sub-loops in lock-step, neither starving the other.
type Reporter struct {
	client   ports.TelemetryReporter
	interval time.Duration
	log      logger.StyledLogger

	mu      sync.Mutex
	pending []ports.ReportRequest

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReporter builds a Reporter that flushes at the given interval.
func NewReporter(client ports.TelemetryReporter, interval time.Duration, log logger.StyledLogger) *Reporter {
	return &Reporter{
		client:   client,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Enqueue stages one report for the next flush tick.
func (r *Reporter) Enqueue(req ports.ReportRequest) {
	r.mu.Lock()
	r.pending = append(r.pending, req)
	r.mu.Unlock()
}

// Start runs the flush loop until Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.flush(ctx)
			}
		}
	}()
}

// flush drains whatever is pending and reports each, discarding failures.
func (r *Reporter) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, req := range batch {
		if err := r.client.Report(ctx, req); err != nil {
			r.log.Warn("telemetry report failed, discarding", "key", req.Key.String(), "error", err)
		}
	}
}

// Stop halts the flush loop.
func (r *Reporter) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
