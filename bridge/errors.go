package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/glimte/rpcbridge/internal/reliability"
)

var (
	// Configuration errors
	ErrNotConfigured  = errors.New("bridge: remote endpoint address is not configured")
	ErrInvalidAddress = errors.New("bridge: remote endpoint address is invalid")

	// Handshake errors
	ErrHandshakeTimeout = errors.New("bridge: remote context did not signal readiness in time")

	// Request errors
	ErrNoDeliveryTarget = errors.New("bridge: no delivery target for the remote context")
	ErrRequestTimeout   = errors.New("bridge: request timed out")
	ErrDuplicateRequest = errors.New("bridge: request id is already pending")

	// Lifecycle errors
	ErrClosed = errors.New("bridge: closed")
)

// ConfigError is returned synchronously when no usable remote address exists
type ConfigError struct {
	Op      string // Step that failed (resolve, parse)
	Address string // Address as configured, if any
	Err     error  // ErrNotConfigured or ErrInvalidAddress
}

func (e *ConfigError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("bridge config error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bridge config error: %s %q: %v", e.Op, e.Address, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// HandshakeError settles every caller waiting on a failed handshake and every
// caller after it
type HandshakeError struct {
	URL     string        // Bridge URL the remote context was launched at
	Timeout time.Duration // Readiness deadline
	Err     error         // ErrHandshakeTimeout, ErrClosed or the launch failure
}

func (e *HandshakeError) Error() string {
	if errors.Is(e.Err, ErrHandshakeTimeout) {
		return fmt.Sprintf("bridge handshake error: no ready-signal from %s within %v; check that the remote side is deployed and serves bridge mode",
			e.URL, e.Timeout)
	}
	return fmt.Sprintf("bridge handshake error: %s: %v", e.URL, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// RequestError fails one call without affecting the channel
type RequestError struct {
	Op      string        // deliver, send or wait
	ID      string        // Request id
	Method  string        // Remote method
	Timeout time.Duration // Request deadline, for timeouts
	Err     error
}

func (e *RequestError) Error() string {
	if errors.Is(e.Err, ErrRequestTimeout) {
		return fmt.Sprintf("bridge request error: %s (%s) got no response within %v", e.Method, e.ID, e.Timeout)
	}
	return fmt.Sprintf("bridge request error: %s failed for %s (%s): %v", e.Op, e.Method, e.ID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the same call may reasonably be issued again
func (e *RequestError) IsRetryable() bool {
	if errors.Is(e.Err, ErrRequestTimeout) || errors.Is(e.Err, ErrNoDeliveryTarget) {
		return true
	}
	if errors.Is(e.Err, ErrClosed) {
		return false
	}
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(e.Err, &r) {
		return r.IsRetryable()
	}
	return true
}

// RemoteError carries the error text of a response with ok=false
type RemoteError struct {
	ID      string
	Method  string
	Message string
}

// Error returns the remote text verbatim
func (e *RemoteError) Error() string {
	return e.Message
}

// IsRetryable reports false; the remote side already decided
func (e *RemoteError) IsRetryable() bool {
	return false
}

// IsRetryable classifies a bridge error. Configuration and handshake failures
// need operator action; request timeouts and delivery failures do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrInvalidAddress):
		return false
	case errors.Is(err, ErrClosed):
		return false
	}

	var hsErr *HandshakeError
	if errors.As(err, &hsErr) {
		return false
	}

	return reliability.IsRetryableError(err)
}
