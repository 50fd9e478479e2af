package domain

// ProtocolTag classifies a connection's wire protocol once it has been
// sniffed or derived from a request's HTTP version. It is immutable for the
// lifetime of a Destination Key.
type ProtocolTag uint8

const (
	ProtocolUnknown ProtocolTag = iota
	ProtocolHTTP1
	ProtocolHTTP2
	ProtocolTCP
)

func (p ProtocolTag) String() string {
	switch p {
	case ProtocolHTTP1:
		return "HTTP/1"
	case ProtocolHTTP2:
		return "HTTP/2"
	case ProtocolTCP:
		return "TCP"
	default:
		return "unknown"
	}
}

// IsHTTP reports whether the tag requires an HTTP client stack (as opposed
// to opaque TCP forwarding).
func (p ProtocolTag) IsHTTP() bool {
	return p == ProtocolHTTP1 || p == ProtocolHTTP2
}

// ProtocolTagFromHTTPVersion maps an HTTP request's wire version to a
// Protocol Tag: HTTP/2 iff the version is HTTP/2, HTTP/1 otherwise.
func ProtocolTagFromHTTPVersion(major, minor int) ProtocolTag {
	if major == 2 {
		return ProtocolHTTP2
	}
	return ProtocolHTTP1
}
