//go:build linux

// Package transparency implements ports.OriginalDstLookup: recovering the
// pre-NAT destination address of a transparently-redirected connection.
// Grounded on original_source/transparency/tcp.rs's reliance on
// "the SO_ORIGINAL_DST socket option" (the standard iptables REDIRECT/
// TPROXY mechanism); the getsockopt call itself has no ecosystem library in
// the pack (golang.org/x/sys/unix doesn't expose this particular option
// by name), so it's issued directly via the connection's raw fd using
// stdlib syscall directly, the one piece of this module that is unavoidably
// Linux-syscall-level rather than something any HTTP/transport library
// would cover.
package transparency

import (
	"fmt"
	"net"
	"syscall"
	"unsafe"

	"github.com/thushan/sidecarproxy/internal/core/ports"
)

const (
	solIP          = 0
	soOriginalDst  = 80
	afInet         = 2
)

// sockaddrIn mirrors struct sockaddr_in as returned by SO_ORIGINAL_DST.
type sockaddrIn struct {
	family uint16
	port   [2]byte
	addr   [4]byte
	zero   [8]byte
}

// Lookup implements ports.OriginalDstLookup for Linux, reading
// SO_ORIGINAL_DST off conn's underlying file descriptor.
type Lookup struct{}

// New builds the Linux SO_ORIGINAL_DST lookup.
func New() Lookup { return Lookup{} }

// OriginalDst returns the pre-redirect destination address for conn, or an
// error if conn isn't a *net.TCPConn or the socket option is unset (no
// transparent redirect was applied to this connection).
func (Lookup) OriginalDst(conn net.Conn) (net.Addr, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, fmt.Errorf("original dst: not a TCP connection (%T)", conn)
	}

	raw, err := tc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("original dst: syscall conn: %w", err)
	}

	var sa sockaddrIn
	var getErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		size := uint32(unsafe.Sizeof(sa))
		_, _, errno := syscall.Syscall6(
			syscall.SYS_GETSOCKOPT,
			fd,
			uintptr(solIP),
			uintptr(soOriginalDst),
			uintptr(unsafe.Pointer(&sa)),
			uintptr(unsafe.Pointer(&size)),
			0,
		)
		if errno != 0 {
			getErr = errno
		}
	})
	if ctrlErr != nil {
		return nil, fmt.Errorf("original dst: control: %w", ctrlErr)
	}
	if getErr != nil {
		return nil, fmt.Errorf("original dst: getsockopt SO_ORIGINAL_DST: %w", getErr)
	}
	if sa.family != afInet {
		return nil, fmt.Errorf("original dst: unexpected address family %d", sa.family)
	}

	ip := net.IPv4(sa.addr[0], sa.addr[1], sa.addr[2], sa.addr[3])
	port := int(sa.port[0])<<8 | int(sa.port[1])
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

var _ ports.OriginalDstLookup = Lookup{}
