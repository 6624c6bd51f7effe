package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Circuit breaker errors
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")

	// Retry errors
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	ErrNonRetryable       = errors.New("retry: error is not retryable")
)

// CircuitBreakerError describes a send rejected by an open breaker
type CircuitBreakerError struct {
	Name             string
	State            State
	Failures         int
	FailureThreshold int
	NextAttempt      time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateOpen {
		return fmt.Sprintf("circuit breaker %s open: send blocked (failures=%d/%d, retry in %v)",
			e.Name, e.Failures, e.FailureThreshold, time.Until(e.NextAttempt).Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit breaker %s %s: send limited", e.Name, e.State)
}

func (e *CircuitBreakerError) Unwrap() error {
	if e.State == StateOpen {
		return ErrCircuitOpen
	}
	return ErrCircuitHalfOpenLimit
}

// IsRetryable reports false; retrying into an open breaker only burns attempts
func (e *CircuitBreakerError) IsRetryable() bool {
	return false
}

// RetryError is returned once a retry policy gives up
type RetryError struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts over %v: %v",
		e.Attempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// IsRetryableError reports whether err may be retried. Errors opt out by
// implementing IsRetryable() bool anywhere in their chain or by wrapping
// ErrNonRetryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) || errors.Is(err, ErrMaxRetriesExceeded) {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return true
}
