package ports

import (
	"net"
)

// OriginalDstLookup is the pluggable "get original destination" hook invoked
// once per accepted connection. On Linux the production implementation reads
// SO_ORIGINAL_DST off the connection's underlying fd; tests inject a mock
// keyed by the connection's local address.
type OriginalDstLookup interface {
	OriginalDst(conn net.Conn) (net.Addr, error)
}
