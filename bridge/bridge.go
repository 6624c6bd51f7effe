package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glimte/rpcbridge/contracts"
	"github.com/glimte/rpcbridge/internal/reliability"
	"go.uber.org/atomic"
)

const (
	// DefaultQueryParam and DefaultQueryValue tell the remote side to run in
	// bridge mode
	DefaultQueryParam = "page"
	DefaultQueryValue = "bridge"

	requestIDPrefix = "rpc_"
)

// Bridge is one session with the remote context: it owns the handshake, the
// pending table and the request id sequence
type Bridge struct {
	handshake  *handshake
	table      *pendingTable
	supervisor *timeoutSupervisor
	router     *Router

	seq    *atomic.Uint64
	closed *atomic.Bool

	retryPolicy    reliability.RetryPolicy
	circuitBreaker *reliability.CircuitBreaker
	logger         *slog.Logger
}

// BridgeOption configures the bridge
type BridgeOption func(*BridgeConfig)

// BridgeConfig holds configuration for the bridge
type BridgeConfig struct {
	Address        func() string
	QueryParam     string
	QueryValue     string
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	Clock          Clock
	RetryPolicy    reliability.RetryPolicy
	CircuitBreaker *reliability.CircuitBreaker
	Logger         *slog.Logger
}

// WithAddress sets a fixed remote address
func WithAddress(address string) BridgeOption {
	return func(c *BridgeConfig) {
		c.Address = func() string { return address }
	}
}

// WithAddressFunc resolves the remote address lazily on first use
func WithAddressFunc(fn func() string) BridgeOption {
	return func(c *BridgeConfig) {
		c.Address = fn
	}
}

// WithBridgeQuery sets the query parameter that puts the remote side in
// bridge mode
func WithBridgeQuery(param, value string) BridgeOption {
	return func(c *BridgeConfig) {
		c.QueryParam = param
		c.QueryValue = value
	}
}

// WithReadyTimeout sets the handshake deadline
func WithReadyTimeout(timeout time.Duration) BridgeOption {
	return func(c *BridgeConfig) {
		c.ReadyTimeout = timeout
	}
}

// WithRequestTimeout sets the per-request deadline
func WithRequestTimeout(timeout time.Duration) BridgeOption {
	return func(c *BridgeConfig) {
		c.RequestTimeout = timeout
	}
}

// WithClock replaces the clock deadlines are scheduled on
func WithClock(clock Clock) BridgeOption {
	return func(c *BridgeConfig) {
		c.Clock = clock
	}
}

// WithRetryPolicy retries transient failures when posting a request frame
func WithRetryPolicy(policy reliability.RetryPolicy) BridgeOption {
	return func(c *BridgeConfig) {
		c.RetryPolicy = policy
	}
}

// WithCircuitBreaker guards request posts with a circuit breaker
func WithCircuitBreaker(cb *reliability.CircuitBreaker) BridgeOption {
	return func(c *BridgeConfig) {
		c.CircuitBreaker = cb
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(c *BridgeConfig) {
		c.Logger = logger
	}
}

// NewBridge creates a bridge. Nothing is launched until the first Invoke.
func NewBridge(launcher Launcher, opts ...BridgeOption) (*Bridge, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher cannot be nil")
	}

	config := &BridgeConfig{
		QueryParam:     DefaultQueryParam,
		QueryValue:     DefaultQueryValue,
		ReadyTimeout:   DefaultReadyTimeout,
		RequestTimeout: DefaultRequestTimeout,
		Clock:          SystemClock,
		Logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.ReadyTimeout <= 0 || config.RequestTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be positive (ready=%v, request=%v)", config.ReadyTimeout, config.RequestTimeout)
	}
	if strings.TrimSpace(config.QueryParam) == "" {
		return nil, fmt.Errorf("bridge query parameter cannot be empty")
	}

	table := newPendingTable()
	supervisor := &timeoutSupervisor{
		clock:          config.Clock,
		table:          table,
		requestTimeout: config.RequestTimeout,
		readyTimeout:   config.ReadyTimeout,
		logger:         config.Logger,
	}
	hs := &handshake{
		done:       make(chan struct{}),
		launched:   make(chan struct{}),
		launcher:   launcher,
		address:    config.Address,
		queryParam: config.QueryParam,
		queryValue: config.QueryValue,
		supervisor: supervisor,
		logger:     config.Logger,
	}
	router := NewRouter(hs, table, config.Logger)
	hs.inbound = router.Route

	return &Bridge{
		handshake:      hs,
		table:          table,
		supervisor:     supervisor,
		router:         router,
		seq:            atomic.NewUint64(0),
		closed:         atomic.NewBool(false),
		retryPolicy:    config.RetryPolicy,
		circuitBreaker: config.CircuitBreaker,
		logger:         config.Logger,
	}, nil
}

// IsConfigured reports whether a remote address is available
func (b *Bridge) IsConfigured() bool {
	return b.handshake.configured()
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Invoke calls method in the remote context and waits for its result.
//
// The first call launches the remote context; calls made before it signals
// readiness wait for it. ctx only bounds this caller's wait: the request
// itself stays pending until its response or deadline.
func (b *Bridge) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if method == "" {
		return nil, fmt.Errorf("method cannot be empty")
	}

	done, err := b.handshake.ensure()
	if err != nil {
		return nil, err
	}

	endpoint, err := b.handshake.wait(ctx, done)
	if err != nil {
		return nil, err
	}

	id := b.nextID()
	req, err := contracts.NewRequest(id, method, args...)
	if err != nil {
		return nil, err
	}
	data, err := contracts.Encode(req)
	if err != nil {
		return nil, err
	}

	settled := make(chan outcome, 1)
	err = b.table.register(id, method,
		func(result json.RawMessage) { settled <- outcome{result: result} },
		func(err error) { settled <- outcome{err: err} },
	)
	if err != nil {
		return nil, err
	}
	b.supervisor.watchRequest(id, method)

	if endpoint.Target == nil {
		b.table.fail(id, &RequestError{Op: "deliver", ID: id, Method: method, Err: ErrNoDeliveryTarget})
	} else if err := b.send(ctx, endpoint, data); err != nil {
		b.logger.Error("failed to send request", "id", id, "method", method, "error", err)
		b.table.fail(id, &RequestError{Op: "send", ID: id, Method: method, Err: err})
	} else {
		b.logger.Debug("request sent", "id", id, "method", method, "origin", endpoint.Origin)
	}

	select {
	case o := <-settled:
		return o.result, o.err
	case <-ctx.Done():
		b.logger.Debug("caller stopped waiting", "id", id, "method", method, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

// InvokeTyped calls method and decodes its result into T
func InvokeTyped[T any](ctx context.Context, b *Bridge, method string, args ...any) (T, error) {
	var zero T

	raw, err := b.Invoke(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	if len(raw) == 0 {
		return zero, nil
	}

	var typed T
	if err := json.Unmarshal(raw, &typed); err != nil {
		return zero, fmt.Errorf("failed to decode result of %s: %w", method, err)
	}
	return typed, nil
}

func (b *Bridge) nextID() string {
	return fmt.Sprintf("%s%d", requestIDPrefix, b.seq.Inc())
}

// send posts data, applying the retry policy and circuit breaker when set
func (b *Bridge) send(ctx context.Context, endpoint ChannelEndpoint, data []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, b.supervisor.requestTimeout)
	defer cancel()

	post := func() error {
		return endpoint.Target.Post(sendCtx, endpoint.Origin, data)
	}

	attempt := post
	if b.retryPolicy != nil {
		attempt = func() error {
			return reliability.Retry(sendCtx, b.retryPolicy, post)
		}
	}

	if b.circuitBreaker != nil {
		return b.circuitBreaker.Execute(sendCtx, attempt)
	}
	return attempt()
}

// Route hands an inbound envelope to the router. Launchers normally receive
// this as their inbound callback; it is exposed for transports that deliver
// frames from elsewhere.
func (b *Bridge) Route(env contracts.Envelope) {
	b.router.Route(env)
}

// PendingCount returns the number of requests awaiting a response
func (b *Bridge) PendingCount() int {
	return b.table.len()
}

// State returns the handshake phase
func (b *Bridge) State() Phase {
	return b.handshake.state()
}

// Endpoint returns the recorded channel endpoint once the handshake is ready
func (b *Bridge) Endpoint() (ChannelEndpoint, bool) {
	return b.handshake.current()
}

// Close fails pending requests with ErrClosed and releases the remote context
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	if n := b.table.drain(ErrClosed); n > 0 {
		b.logger.Info("closed bridge with pending requests", "pending", n)
	}
	return b.handshake.close()
}
