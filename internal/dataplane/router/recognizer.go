// Package router implements L9: classifying an inbound request into a
// Destination Key and looking up (or creating) its Bound Service. The
// registry style — a name/key keyed map with lazy creation — follows the
// same shape as the balancer strategy registry in adapter/balancer,
// generalised from "named strategy constructors" to "Destination Key keyed
// Bound Services".
package router

import (
	"net/http"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// RouteError is returned by BindService when a key cannot be routed at
// all (reserved for a future LRU-eviction-aware router; today BindService
// never fails since it always lazily creates).
type RouteError struct {
	Key domain.DestinationKey
	Err error
}

func (e *RouteError) Error() string {
	return "route error for " + e.Key.String() + ": " + e.Err.Error()
}

func (e *RouteError) Unwrap() error { return e.Err }

// Recognize implements the inbound recognition steps:
//  1. Extract the Server Context from the request's extension slot.
//  2. If present, use OriginalDstIfNotLocal() (loop prevention).
//  3. Otherwise fall back to the configured default address.
//  4. Map the request's HTTP version to a Protocol Tag.
//  5. Return (addr, tag), or false if no address is derivable.
func Recognize(r *http.Request, defaultAddr *domain.SocketAddress) (domain.DestinationKey, bool) {
	tag := domain.ProtocolTagFromHTTPVersion(r.ProtoMajor, r.ProtoMinor)

	if sc, ok := r.Context().Value(domain.ServerContextKey).(domain.ServerContext); ok {
		if addr, usable := sc.OriginalDstIfNotLocal(); usable {
			return domain.NewDestinationKey(addr, tag), true
		}
		// Server Context present but original destination equals local
		// (loop) or is unset: fall through to default, same as "absent".
	}

	if defaultAddr != nil && !defaultAddr.IsZero() {
		return domain.NewDestinationKey(*defaultAddr, tag), true
	}

	return domain.DestinationKey{}, false
}

// RecognizeOutbound resolves a Destination Key by authority (Host header)
// for HTTP destinations managed by a discovery Watch. The caller supplies
// the already-selected endpoint address (chosen by a balancer among the
// Watch's current candidates); RecognizeOutbound only derives the Protocol
// Tag and assembles the key, keeping endpoint selection out of the
// recognizer itself.
func RecognizeOutbound(addr domain.SocketAddress, r *http.Request) domain.DestinationKey {
	tag := domain.ProtocolTagFromHTTPVersion(r.ProtoMajor, r.ProtoMinor)
	return domain.NewDestinationKey(addr, tag)
}
