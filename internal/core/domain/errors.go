package domain

import (
	"fmt"
)

// ConfigError wraps a fatal configuration problem detected at startup.
// main.go exits with status 64 when Load returns one of these.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewConfigError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// ConnectError is returned by Connect (L2) on refusal, unreachable network,
// or connect-deadline expiry. It is retryable by Reconnect.
type ConnectError struct {
	Addr      SocketAddress
	Transport string // "refused", "unreachable", "timeout", or the raw net error class
	Timeout   bool
	Err       error
}

func (e *ConnectError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("connect %s: timeout (%s)", e.Addr, e.Transport)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Transport, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProtocolError is a per-request failure surfaced to the caller untouched
// (HTTP 502 at the edge); it never triggers Reconnect on its own.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ReconnectError is the composite error Reconnect surfaces the first time
// it enters Failed. Exactly one of Inner, Connect is set, or NotReady is
// true: Inner(protocol), Connect(transport+timeout), or the internal
// NotReady (treated as a bug).
type ReconnectError struct {
	Inner    *ProtocolError
	Connect  *ConnectError
	NotReady bool
}

// Error renders the human-readable form by pattern-matching the populated
// variant, walking the fixed stack described in the design notes.
func (e *ReconnectError) Error() string {
	switch {
	case e.Inner != nil:
		return fmt.Sprintf("reconnect: %s", e.Inner.Error())
	case e.Connect != nil:
		return fmt.Sprintf("reconnect: %s", e.Connect.Error())
	case e.NotReady:
		return "reconnect: NotReady returned where Ready was required (bug)"
	default:
		return "reconnect: failed"
	}
}

func (e *ReconnectError) Unwrap() error {
	switch {
	case e.Inner != nil:
		return e.Inner
	case e.Connect != nil:
		return e.Connect
	default:
		return nil
	}
}

// BufferDirection names which side of a Bind's Buffer + In-flight Limit a
// BufferSpawnError occurred on.
type BufferDirection string

const (
	DirectionInbound  BufferDirection = "inbound"
	DirectionOutbound BufferDirection = "outbound"
)

// BufferSpawnError is returned when a Buffer's drain worker cannot be
// started during route setup. Surfaced to the caller as HTTP 500.
type BufferSpawnError struct {
	Direction BufferDirection
	Err       error
}

func (e *BufferSpawnError) Error() string {
	return fmt.Sprintf("buffer spawn failed (%s): %v", e.Direction, e.Err)
}

func (e *BufferSpawnError) Unwrap() error {
	return e.Err
}

// ErrOverloaded is returned by the In-flight Limit when a bound service
// already has the maximum number of requests outstanding. Surfaced as
// HTTP 503.
type ErrOverloaded struct {
	Key   DestinationKey
	Limit int
}

func (e *ErrOverloaded) Error() string {
	return fmt.Sprintf("overloaded: %s exceeds in-flight limit of %d", e.Key, e.Limit)
}

// ErrWriteZero is returned by the TCP Forwarder when a write makes no
// progress despite pending buffered data. It terminates the Duplex session.
type ErrWriteZero struct {
	Direction string
}

func (e *ErrWriteZero) Error() string {
	return fmt.Sprintf("write zero: %s direction made no progress with data pending", e.Direction)
}

// LoadBalancerError wraps a selection failure from an EndpointSelector.
type LoadBalancerError struct {
	Err           error
	Strategy      string
	EndpointCount int
}

func (e *LoadBalancerError) Error() string {
	return fmt.Sprintf("load balancer %s failed with %d endpoints: %v", e.Strategy, e.EndpointCount, e.Err)
}

func (e *LoadBalancerError) Unwrap() error {
	return e.Err
}

func NewLoadBalancerError(strategy string, endpointCount int, err error) *LoadBalancerError {
	return &LoadBalancerError{Strategy: strategy, EndpointCount: endpointCount, Err: err}
}
