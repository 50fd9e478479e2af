//go:build !linux

package transparency

import (
	"errors"
	"net"

	"github.com/thushan/sidecarproxy/internal/core/ports"
)

// ErrUnsupported is returned on platforms without SO_ORIGINAL_DST (macOS,
// Windows, BSD). The recognizer's OriginalDstIfNotLocal already treats a
// missing original destination the same as "no transparent redirect
// applied", so this degrades to the default-address fallback rather than
// failing the connection.
var ErrUnsupported = errors.New("original dst: unsupported on this platform")

// Lookup is the non-Linux stub; it always reports ErrUnsupported.
type Lookup struct{}

// New builds the stub lookup used on platforms without SO_ORIGINAL_DST.
func New() Lookup { return Lookup{} }

// OriginalDst always fails on non-Linux platforms.
func (Lookup) OriginalDst(conn net.Conn) (net.Addr, error) {
	return nil, ErrUnsupported
}

var _ ports.OriginalDstLookup = Lookup{}
