// Package connect implements L2: establishing a single TCP connection to a
// resolved socket address. No retry lives here; that is Reconnect's job one
// layer up.
package connect

import (
	"context"
	"net"
	"strings"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

// Dialer is the pluggable transport Connect drives. *net.Dialer satisfies
// it; tests substitute a fake that returns net.Pipe ends or forced errors.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connect asynchronously produces a connected, bidirectional byte stream to
// addr. It performs no retry and no timeout of its own; wrap it with
// internal/dataplane/timeout.Wrap for a connect deadline.
type Connect struct {
	dialer Dialer
}

// New builds a Connect over the given Dialer. Pass a *net.Dialer in
// production; tests pass a fake.
func New(dialer Dialer) Connect {
	return Connect{dialer: dialer}
}

// Dial opens a connection to addr, classifying failure into the
// domain.ConnectError shape Reconnect pattern-matches on.
func (c Connect) Dial(ctx context.Context, addr domain.SocketAddress) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, classify(addr, err)
	}
	return conn, nil
}

func classify(addr domain.SocketAddress, err error) error {
	transport := "unreachable"
	timedOut := false

	if ne, ok := err.(net.Error); ok {
		timedOut = ne.Timeout()
	}

	if opErr, ok := err.(*net.OpError); ok {
		if opErr.Timeout() {
			timedOut = true
			transport = "timeout"
		} else if isRefused(opErr) {
			transport = "refused"
		}
	}

	return &domain.ConnectError{
		Addr:      addr,
		Transport: transport,
		Timeout:   timedOut,
		Err:       err,
	}
}

// isRefused detects ECONNREFUSED. net.OpError wraps a *os.SyscallError
// whose message embeds the platform errno text, so a substring match is the
// portable way to classify it without importing syscall per platform.
func isRefused(opErr *net.OpError) bool {
	return opErr.Err != nil && strings.Contains(opErr.Err.Error(), "refused")
}
