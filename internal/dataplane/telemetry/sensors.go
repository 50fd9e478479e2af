// Package telemetry implements the Sensors hook points equivalent to
// bind.rs's self.sensors.connect(...)/self.sensors.http(...) calls, plus
// L13's Reporting RPC client. Metric *export* stays out of scope; Sensors
// here are pass-through instrumentation points publishing onto the
// in-process pkg/eventbus rather than to an external exporter.
package telemetry

import (
	"context"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/pkg/eventbus"
)

// ConnectEvent is published around every Connect attempt Bind wraps.
type ConnectEvent struct {
	Key      domain.DestinationKey
	Duration time.Duration
	Err      error
}

// HTTPEvent is published around every request a Bound Service's protocol
// client issues.
type HTTPEvent struct {
	Key      domain.DestinationKey
	Duration time.Duration
	Err      error
}

// Sensors is the fabric's wrapping-point interface: Bind (L8) calls Connect
// around L2 and HTTP around L3, regardless of whether anything is currently
// subscribed to hear about it.
type Sensors interface {
	Connect(key domain.DestinationKey, duration time.Duration, err error)
	HTTP(key domain.DestinationKey, duration time.Duration, err error)
}

// EventBusSensors publishes Connect/HTTP events onto two eventbus topics,
// letting the control listener's dashboard (or tests) subscribe without
// Bind knowing anything about its consumers.
type EventBusSensors struct {
	connectBus *eventbus.EventBus[ConnectEvent]
	httpBus    *eventbus.EventBus[HTTPEvent]
}

// NewEventBusSensors builds a Sensors backed by two fresh event buses.
func NewEventBusSensors() *EventBusSensors {
	return &EventBusSensors{
		connectBus: eventbus.New[ConnectEvent](),
		httpBus:    eventbus.New[HTTPEvent](),
	}
}

func (s *EventBusSensors) Connect(key domain.DestinationKey, duration time.Duration, err error) {
	s.connectBus.PublishAsync(ConnectEvent{Key: key, Duration: duration, Err: err})
}

func (s *EventBusSensors) HTTP(key domain.DestinationKey, duration time.Duration, err error) {
	s.httpBus.PublishAsync(HTTPEvent{Key: key, Duration: duration, Err: err})
}

// SubscribeConnect lets a dashboard or test observe connect attempts.
func (s *EventBusSensors) SubscribeConnect(ctx context.Context) (<-chan ConnectEvent, func()) {
	return s.connectBus.Subscribe(ctx)
}

// SubscribeHTTP lets a dashboard or test observe request completions.
func (s *EventBusSensors) SubscribeHTTP(ctx context.Context) (<-chan HTTPEvent, func()) {
	return s.httpBus.Subscribe(ctx)
}

// NoopSensors discards every event; used where Bind is constructed without
// a dashboard attached (tests, or a minimal deployment).
type NoopSensors struct{}

func (NoopSensors) Connect(domain.DestinationKey, time.Duration, error) {}
func (NoopSensors) HTTP(domain.DestinationKey, time.Duration, error)    {}
