// Package reliability guards frame delivery to the remote context.
//
// Two patterns are provided:
//   - Retry policies: re-send a frame after a transient transport failure
//   - Circuit Breaker: stop hammering an endpoint that keeps failing
//
// Neither is applied to the channel handshake. A remote context that never
// signals readiness is a deployment problem and fails terminally.
//
// Example usage:
//
//	cb := NewCircuitBreaker(
//	    WithName("bridge-send"),
//	    WithFailureThreshold(5),
//	    WithOpenTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return Retry(ctx, NewExponential(50*time.Millisecond, time.Second, 3), post)
//	})
package reliability
