// Package rewrite implements L6: a pure request transformer that injects
// scheme and authority into outgoing requests, preserving path and query.
// Generalised from "one endpoint's base URL" to "a fixed per-stack
// scheme+authority pair" since a Bound Service's stack targets exactly one
// Destination Key.
package rewrite

import (
	"fmt"
	"net/url"
)

// OriginRewriter sets a fixed scheme and authority on every request it
// rewrites. Constructing one from an invalid pair is a contract violation:
// the caller passes the already-resolved Destination Key's address, which
// is always a valid authority.
type OriginRewriter struct {
	scheme    string
	authority string
}

// New builds an OriginRewriter for a fixed (scheme, authority) pair, e.g.
// ("http", "10.0.0.5:8080").
func New(scheme, authority string) OriginRewriter {
	return OriginRewriter{scheme: scheme, authority: authority}
}

// Rewrite returns a new URL with this rewriter's scheme and authority
// applied, preserving the original path and query. A failure to reconstruct
// a valid URI is a contract violation and panics rather than returning a
// silently broken URL.
func (o OriginRewriter) Rewrite(original *url.URL) *url.URL {
	rewritten := &url.URL{
		Scheme:   o.scheme,
		Host:     o.authority,
		Path:     original.Path,
		RawPath:  original.RawPath,
		RawQuery: original.RawQuery,
	}
	if _, err := url.Parse(rewritten.String()); err != nil {
		panic(fmt.Sprintf("rewrite: produced unparsable URI for %s%s: %v", o.authority, original.Path, err))
	}
	return rewritten
}
