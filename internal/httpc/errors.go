package httpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// TransientError wraps a transport-level failure that is worth retrying:
// timeouts, connection failures, resets. HTTP status errors are never
// transient.
type TransientError struct {
	URL string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("httpc: transient failure for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is returned for non-2xx responses. It is never retried but
// does count against the host's circuit breaker.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpc: %s returned %s", e.URL, e.Status)
}

// CircuitOpenError is returned when the breaker for a host rejects the
// call before any network activity. It does not count as a new failure
// and is never retried.
type CircuitOpenError struct {
	Host       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("httpc: circuit open for %s (retry in %s)", e.Host, e.RetryAfter.Round(time.Millisecond))
}

// isTransient reports whether a transport error is worth retrying.
// Context cancellation is explicitly not transient: the caller gave up.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	// The server hung up mid-response.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
