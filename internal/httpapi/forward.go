package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

const (
	forwardAttempts   = 3
	forwardRetryDelay = 100 * time.Millisecond
)

// ForwardToBackend POSTs body to url, retrying only on connection
// errors (refused/reset/aborted, broken pipe, socket timeouts). An HTTP
// error response is not a connection error: it is returned to the
// caller unchanged, never retried. Non-retriable errors fail fast.
func ForwardToBackend(client *http.Client, url string, body []byte) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for attempt := 0; attempt < forwardAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(forwardRetryDelay)
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err == nil {
			return resp, nil
		}
		if !isConnectionError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("backend unavailable: %w", lastErr)
}

// isConnectionError classifies transport-level failures worth retrying:
// the backend may simply not be up yet, or dropped the connection
// mid-flight.
func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
