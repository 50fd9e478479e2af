package app

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"time"

	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/internal/core/ports"
	"github.com/thushan/sidecarproxy/internal/dataplane/dispatch"
	"github.com/thushan/sidecarproxy/internal/logger"
)

// sniffTimeout bounds how long the Public listener waits for a new
// connection's first bytes before giving up and treating it as opaque TCP.
// A connection that never sends anything within this window is as opaque
// as one that sends binary data immediately.
const sniffTimeout = 500 * time.Millisecond

// httpPrefixes are the request-line openings that mark a connection as
// HTTP/1.x, plus the HTTP/2 cleartext preface. Anything else on the Public
// listener is forwarded as opaque TCP rather than handed to net/http.
var httpPrefixes = [][]byte{
	[]byte("GET "), []byte("HEAD "), []byte("POST "), []byte("PUT "),
	[]byte("DELETE "), []byte("OPTIONS "), []byte("PATCH "), []byte("TRACE "),
	[]byte("CONNECT "), []byte("PRI * HTTP/2"),
}

// peekedConn replays the bytes sniffHTTP already consumed from the wire
// before any later reader (net/http's or the TCP forwarder's) sees the
// connection, so sniffing never drops data.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *peekedConn) Read(b []byte) (int, error) { return c.r.Read(b) }

// sniffHTTP peeks the first bytes of conn to classify it as HTTP or
// opaque TCP without consuming them, returning a conn that still yields
// the peeked bytes to its next reader.
func sniffHTTP(conn net.Conn) (*peekedConn, bool) {
	br := bufio.NewReaderSize(conn, 4096)
	pc := &peekedConn{Conn: conn, r: br}

	_ = conn.SetReadDeadline(time.Now().Add(sniffTimeout))
	peek, err := br.Peek(12)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil && len(peek) == 0 {
		return pc, false
	}

	for _, prefix := range httpPrefixes {
		if bytes.HasPrefix(peek, prefix) {
			return pc, true
		}
	}
	return pc, false
}

// protocolSniffingListener wraps the Public listener's net.Listener,
// classifying each accepted connection as HTTP or opaque TCP before
// deciding whether net/http ever sees it. Opaque connections are handed to
// handleTCP directly and never returned from Accept, since the dataplane
// says for opaque TCP the socket bypasses the recognizer/bind/buffer stack
// entirely.
type protocolSniffingListener struct {
	net.Listener
	handleTCP func(conn net.Conn)
	logger    logger.StyledLogger
}

func (l *protocolSniffingListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		peeked, isHTTP := sniffHTTP(conn)
		if isHTTP {
			return peeked, nil
		}

		l.logger.Debug("opaque TCP connection recognized on public listener", "remote", conn.RemoteAddr().String())
		go l.handleTCP(peeked)
	}
}

// newTCPForwardHandler builds the opaque-TCP path: recover the original
// destination from the Server Context and pipe bytes until both halves
// shut down, with no HTTP framing involved.
func newTCPForwardHandler(originalDst ports.OriginalDstLookup, log logger.StyledLogger) func(net.Conn) {
	dial := func(ctx context.Context, addr domain.SocketAddress) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr.String())
	}

	return func(conn net.Conn) {
		defer conn.Close()

		sc := domain.ServerContext{Protocol: domain.ProtocolTCP}
		if local, err := domain.ParseSocketAddress(conn.LocalAddr().String()); err == nil {
			sc.Local = local
		}
		if remote, err := domain.ParseSocketAddress(conn.RemoteAddr().String()); err == nil {
			sc.Remote = remote
		}
		if origAddr, err := originalDst.OriginalDst(conn); err == nil {
			if parsed, perr := domain.ParseSocketAddress(origAddr.String()); perr == nil {
				sc.OriginalDst = parsed
			}
		}

		if err := dispatch.ForwardTCP(context.Background(), sc, conn, dial); err != nil {
			log.Warn("tcp forward failed", "remote", sc.Remote.String(), "error", err)
		}
	}
}
