package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMethodNotAllowed is returned by MethodFilter for methods outside its set
var ErrMethodNotAllowed = errors.New("method not allowed")

// Call is one remote invocation on its way through the chain
type Call struct {
	Method string
	Args   []any
}

// Invoker performs a call
type Invoker interface {
	Invoke(ctx context.Context, call Call) (json.RawMessage, error)
}

// InvokerFunc is a function adapter for Invoker
type InvokerFunc func(ctx context.Context, call Call) (json.RawMessage, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, call Call) (json.RawMessage, error) {
	return f(ctx, call)
}

// Interceptor processes a call and hands it to the next invoker in the chain
type Interceptor interface {
	Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, call Call, next Invoker) (json.RawMessage, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, call Call, next Invoker) (json.RawMessage, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error) {
	return i.fn(ctx, call, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain runs interceptors in the order they were added
type Chain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewChain creates an empty chain
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// Add appends an interceptor
func (c *Chain) Add(interceptor Interceptor) *Chain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *Chain) Len() int {
	return len(c.interceptors)
}

// Execute runs call through the chain and finally through invoker
func (c *Chain) Execute(ctx context.Context, call Call, invoker Invoker) (json.RawMessage, error) {
	if len(c.interceptors) == 0 {
		return invoker.Invoke(ctx, call)
	}

	// Build the chain in reverse order
	next := invoker
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		current := next
		next = InvokerFunc(func(ctx context.Context, call Call) (json.RawMessage, error) {
			return interceptor.Intercept(ctx, call, current)
		})
	}

	return next.Invoke(ctx, call)
}

// LoggingInterceptor logs each call with its duration
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error) {
	start := time.Now()
	i.logger.Debug("invoking remote method", "method", call.Method, "args", len(call.Args))

	result, err := next.Invoke(ctx, call)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("remote call failed",
			"method", call.Method,
			"duration", duration,
			"error", err,
		)
		return nil, err
	}

	i.logger.Debug("remote call completed",
		"method", call.Method,
		"duration", duration,
		"bytes", len(result),
	)
	return result, nil
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsCollector receives per-method call statistics
type MetricsCollector interface {
	IncrementCallCount(method string)
	RecordCallDuration(method string, duration time.Duration)
	IncrementErrorCount(method string, errorType string)
}

// MetricsInterceptor reports calls to a MetricsCollector
type MetricsInterceptor struct {
	collector MetricsCollector
	classify  func(error) string
}

// NewMetricsInterceptor creates a new metrics interceptor. classify names
// the error type; nil reports every failure as "call_error".
func NewMetricsInterceptor(collector MetricsCollector, classify func(error) string) *MetricsInterceptor {
	if classify == nil {
		classify = func(error) string { return "call_error" }
	}
	return &MetricsInterceptor{collector: collector, classify: classify}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error) {
	start := time.Now()
	i.collector.IncrementCallCount(call.Method)

	result, err := next.Invoke(ctx, call)
	i.collector.RecordCallDuration(call.Method, time.Since(start))

	if err != nil {
		i.collector.IncrementErrorCount(call.Method, i.classify(err))
	}
	return result, err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// TimeoutInterceptor bounds how long the caller waits for a call
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	result, err := next.Invoke(timeoutCtx, call)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("call to %s abandoned after %v: %w", call.Method, i.timeout, err)
	}
	return result, err
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// MethodFilter rejects calls to methods outside an allow list
type MethodFilter struct {
	allowed map[string]struct{}
}

// NewMethodFilter allows only the named methods
func NewMethodFilter(methods ...string) *MethodFilter {
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[m] = struct{}{}
	}
	return &MethodFilter{allowed: allowed}
}

// Intercept implements Interceptor
func (f *MethodFilter) Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error) {
	if _, ok := f.allowed[call.Method]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, call.Method)
	}
	return next.Invoke(ctx, call)
}

// Name implements Interceptor
func (f *MethodFilter) Name() string {
	return "MethodFilter"
}

// CircuitBreaker is satisfied by reliability.CircuitBreaker
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
}

// CircuitBreakerInterceptor stops calling a remote context that keeps failing
type CircuitBreakerInterceptor struct {
	circuitBreaker CircuitBreaker
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(circuitBreaker CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{circuitBreaker: circuitBreaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(ctx context.Context, call Call, next Invoker) (json.RawMessage, error) {
	var result json.RawMessage
	err := i.circuitBreaker.Execute(ctx, func() error {
		var err error
		result, err = next.Invoke(ctx, call)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}
