package domain

import (
	"fmt"
	"time"
)

// EndpointState tracks the lifecycle of one discovered endpoint address
// independent of whether a balancer currently considers it routable. The
// transition rules here are the same shape used by Reconnect's Idle /
// Connecting / Ready / Failed state machine (internal/dataplane/reconnect),
// just with vocabulary suited to a discovered address rather than a client.
type EndpointState string

const (
	EndpointStateUnknown  EndpointState = "unknown"
	EndpointStateOnline   EndpointState = "online"
	EndpointStateDegraded EndpointState = "degraded"
	EndpointStateOffline  EndpointState = "offline"
	EndpointStateRemoved  EndpointState = "removed"
)

type EndpointStateInfo struct {
	LastStateChange     time.Time
	State                EndpointState
	LastError            string
	ConsecutiveFailures  int
}

type StateTransition struct {
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
}

func (s EndpointState) IsHealthy() bool {
	return s == EndpointStateOnline || s == EndpointStateDegraded
}

func (s EndpointState) IsTerminal() bool {
	return s == EndpointStateRemoved
}

// CanTransitionTo enforces the state machine rules for endpoint lifecycle.
func (s EndpointState) CanTransitionTo(target EndpointState) bool {
	if s == EndpointStateRemoved {
		return false
	}

	if target == EndpointStateRemoved {
		return true
	}

	validTransitions := map[EndpointState][]EndpointState{
		EndpointStateUnknown:  {EndpointStateOnline, EndpointStateOffline, EndpointStateDegraded},
		EndpointStateOnline:   {EndpointStateOffline, EndpointStateDegraded, EndpointStateUnknown},
		EndpointStateDegraded: {EndpointStateOnline, EndpointStateOffline, EndpointStateUnknown},
		EndpointStateOffline:  {EndpointStateOnline, EndpointStateDegraded, EndpointStateUnknown},
	}

	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, state := range allowed {
		if state == target {
			return true
		}
	}
	return false
}

func (s EndpointState) String() string {
	return string(s)
}

func (s EndpointState) Validate() error {
	switch s {
	case EndpointStateUnknown, EndpointStateOnline, EndpointStateDegraded,
		EndpointStateOffline, EndpointStateRemoved:
		return nil
	default:
		return fmt.Errorf("invalid endpoint state: %s", s)
	}
}
