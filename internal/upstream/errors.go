package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// AuthError reports that the upstream rejected our credentials. Fatal after
// the single re-authentication attempt; never retried in a loop.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed (%d): %s", e.StatusCode, e.Message)
}

// TransientError wraps timeouts, connection failures and 5xx responses. These
// count toward the circuit breaker and are retried with backoff.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient upstream failure on %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is the fast-fail signal emitted while a breaker is open.
// No upstream call was made.
type CircuitOpenError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Endpoint, e.RetryAfter)
}

// APIError is a well-formed upstream application error (4xx other than 401).
// It does not count toward the breaker and is not retried.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error on %s: %d %s", e.Endpoint, e.StatusCode, e.Message)
}

// isTransportError reports whether err is a network-level failure (timeout,
// connection reset, cancellation by deadline) as opposed to an HTTP response.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
