package protocol

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

func TestClient_CallSuccessStaysReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	connectFn := func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", srv.Listener.Addr().String())
	}

	c := New(domain.ProtocolHTTP1, connectFn)
	if err := c.PollReady(); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Call(req)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	resp.Body.Close()

	if err := c.PollReady(); err != nil {
		t.Fatalf("expected still ready after success, got %v", err)
	}
}

func TestClient_CallFailureMarksNotReady(t *testing.T) {
	connectFn := func(ctx context.Context) (net.Conn, error) {
		return nil, &domain.ConnectError{Transport: "refused"}
	}

	c := New(domain.ProtocolHTTP1, connectFn)
	req, _ := http.NewRequest(http.MethodGet, "http://unused/", nil)

	if _, err := c.Call(req); err == nil {
		t.Fatal("expected call error")
	}

	if err := c.PollReady(); err == nil {
		t.Fatal("expected not-ready after call failure")
	}
}
