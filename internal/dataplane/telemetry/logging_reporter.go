package telemetry

import (
	"context"

	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/logger"
)

// LoggingReporter implements ports.TelemetryReporter by logging each report
// instead of issuing a controller RPC. Used in static-discovery mode, where
// there is no streaming control-plane channel for Reporter to push over;
// the periodic-flush-and-discard-on-failure shape Reporter drives is
// unchanged, only the sink differs.
type LoggingReporter struct {
	log logger.StyledLogger
}

// NewLoggingReporter builds a LoggingReporter.
func NewLoggingReporter(log logger.StyledLogger) *LoggingReporter {
	return &LoggingReporter{log: log}
}

// Report logs one sample's latency breakdown at debug level.
func (r *LoggingReporter) Report(ctx context.Context, req ports.ReportRequest) error {
	r.log.Debug("telemetry report",
		"destination", req.Key.String(),
		"latency_ms", req.Stats.Latency,
		"selection_ms", req.Stats.SelectionMs,
		"backend_response_ms", req.Stats.BackendResponseMs,
	)
	return nil
}

var _ ports.TelemetryReporter = (*LoggingReporter)(nil)
