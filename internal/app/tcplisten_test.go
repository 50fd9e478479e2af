package app

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/thushan/sidecarproxy/internal/logger"
)

func testStyledLogger() logger.StyledLogger {
	cfg := &logger.Config{Level: "error", Theme: "default"}
	log, _, _ := logger.New(cfg)
	return logger.NewPlainStyledLogger(log)
}

func TestSniffHTTP_RecognisesHTTPRequestLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("GET /path HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	_, isHTTP := sniffHTTP(server)
	if !isHTTP {
		t.Fatal("expected an HTTP request line to be recognised as HTTP")
	}
}

func TestSniffHTTP_RecognisesOpaqueBytesAsTCP(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x2f}) // TLS ClientHello-shaped, not HTTP
	}()

	_, isHTTP := sniffHTTP(server)
	if isHTTP {
		t.Fatal("expected non-HTTP bytes to be recognised as opaque TCP")
	}
}

// fixedOriginalDst always reports target as the pre-redirect destination,
// standing in for the real SO_ORIGINAL_DST lookup in a test.
type fixedOriginalDst struct {
	target net.Addr
}

func (f fixedOriginalDst) OriginalDst(net.Conn) (net.Addr, error) {
	return f.target, nil
}

// TestProtocolSniffingListener_ForwardsOpaqueTCPEndToEnd exercises the
// opaque-TCP path exactly as the Public listener wires it: a connection
// that doesn't open with an HTTP request line is recognised, handed to the
// TCP forward handler, and its bytes round-trip through a real backend
// without ever reaching net/http.
func TestProtocolSniffingListener_ForwardsOpaqueTCPEndToEnd(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen backend: %v", err)
	}
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) // echo
	}()

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen front: %v", err)
	}
	defer frontLn.Close()

	originalDst := fixedOriginalDst{target: backendLn.Addr()}
	sniffing := &protocolSniffingListener{
		Listener:  frontLn,
		handleTCP: newTCPForwardHandler(originalDst, testStyledLogger()),
		logger:    testStyledLogger(),
	}

	// Drain Accept in the background; an opaque connection never returns
	// from Accept, so the only observable effect is the echoed bytes.
	go func() {
		for {
			conn, err := sniffing.Accept()
			if err != nil {
				return
			}
			conn.Close() // would only happen for an HTTP-shaped connection
		}
	}()

	clientConn, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatalf("dial front: %v", err)
	}
	defer clientConn.Close()

	payload := []byte("opaque-tcp-payload")
	if _, err := clientConn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(clientConn, got); err != nil {
		t.Fatalf("expected payload echoed back through the TCP forwarder, got error: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected echoed payload %q, got %q", payload, got)
	}
}
