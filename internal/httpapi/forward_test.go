package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
)

func TestForwardHTTPErrorNotRetriedBodyUnchanged(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"upstream exploded"}`)
	}))
	defer upstream.Close()

	resp, err := ForwardToBackend(nil, upstream.URL, []byte(`{}`))
	if err != nil {
		t.Fatalf("an HTTP error response must not be an error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected the 500 surfaced verbatim, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"error":"upstream exploded"}` {
		t.Fatalf("expected the upstream body unchanged, got %q", body)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt for an HTTP error, got %d", calls.Load())
	}
}

func TestForwardSuccessPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer upstream.Close()

	resp, err := ForwardToBackend(nil, upstream.URL, []byte(`{"echo":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"echo":true}` {
		t.Fatalf("expected the echoed body, got %q", body)
	}
}

func TestForwardConnectionRefusedExhaustsRetries(t *testing.T) {
	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = ForwardToBackend(nil, "http://"+addr, []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error once connection retries are exhausted")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("expected the last refusal wrapped in the error, got %v", err)
	}
}

func TestIsConnectionErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{fmt.Errorf("write: %w", syscall.EPIPE), true},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{io.ErrUnexpectedEOF, true},
		{errors.New("schema validation failed"), false},
	}
	for _, c := range cases {
		if got := isConnectionError(c.err); got != c.want {
			t.Errorf("isConnectionError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestHandleToolProxyWithoutBackendReturns502(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/tool", nil)
	rec := httptest.NewRecorder()
	s.handleToolProxy(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 with no backend configured, got %d", rec.Code)
	}
}
