// Package forward implements L11: the bidirectional TCP forwarder used for
// opaque (non-HTTP) traffic, translated from a single-threaded poll-driven
// Duplex/HalfDuplex/CopyBuf future into two goroutines synchronised by
// golang.org/x/sync/errgroup, since Go's blocking-read model has no
// NotReady to poll around in the first place.
package forward

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

const copyBufferSize = 4096

// halfCloseWriter is satisfied by net.TCPConn and similar duplex
// connections; it lets one direction signal EOF to the peer without
// tearing down the whole socket.
type halfCloseWriter interface {
	CloseWrite() error
}

// Duplex pipes bytes bidirectionally between a and b until both directions
// have seen EOF and shut down the peer's write side, matching
// original_source/transparency/tcp.rs's Duplex future: "completes only when
// both halves have shut down". Each direction runs in its own goroutine; a
// WriteZero on either side tears down the whole session (Duplex's
// "NotReady ignored, but real errors propagate" behaviour translated to
// Go's fail-fast goroutine group).
func Duplex(a, b net.Conn) error {
	var g errgroup.Group

	g.Go(func() error {
		err := copyHalf(b, a, "a->b")
		if err != nil {
			_ = a.Close()
			_ = b.Close()
		}
		return err
	})
	g.Go(func() error {
		err := copyHalf(a, b, "b->a")
		if err != nil {
			_ = a.Close()
			_ = b.Close()
		}
		return err
	})

	return g.Wait()
}

// copyHalf is one HalfDuplex: read from src into a 4 KiB buffer, write the
// buffered bytes into dst, and on EOF shut down dst's write side. Unlike the
// original's CopyBuf, io.CopyBuffer already tracks read_pos/write_pos
// internally; the buffer here exists only to bound the allocation per
// direction rather than to hand-track positions.
func copyHalf(dst, src net.Conn, direction string) error {
	buf := make([]byte, copyBufferSize)

	// Hide ReaderFrom/WriterTo so io.CopyBuffer really copies through buf.
	n, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
	if err != nil {
		if errors.Is(err, io.ErrShortWrite) {
			return &domain.ErrWriteZero{Direction: direction}
		}
		return fmt.Errorf("forward %s after %d bytes: %w", direction, n, err)
	}

	hc, ok := dst.(halfCloseWriter)
	if !ok {
		return nil
	}
	if err := hc.CloseWrite(); err != nil {
		return fmt.Errorf("shutdown write side %s: %w", direction, err)
	}
	return nil
}
