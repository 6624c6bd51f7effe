// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpcbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/glimte/rpcbridge/bridge"
	"github.com/glimte/rpcbridge/config"
	"github.com/glimte/rpcbridge/health"
	"github.com/glimte/rpcbridge/interceptors"
	"github.com/glimte/rpcbridge/internal/rabbitmq"
	"github.com/glimte/rpcbridge/remote"
	"github.com/glimte/rpcbridge/transports/memory"
	rabbitmqTransport "github.com/glimte/rpcbridge/transports/rabbitmq"
	"github.com/glimte/rpcbridge/transports/websocket"
)

// Client provides the main entry point for rpcbridge
type Client struct {
	bridge   *bridge.Bridge
	activity *bridge.Activity
	chain    *interceptors.Chain
	config   config.Config
	logger   *slog.Logger
}

type clientConfig struct {
	logger        *slog.Logger
	launcher      bridge.Launcher
	responder     *remote.Responder
	labels        map[string]string
	interceptors  []interceptors.Interceptor
	bridgeOptions []bridge.BridgeOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// NewClient creates a client from loaded configuration. Nothing connects
// until the first Call.
func NewClient(cfg config.Config, options ...ClientOption) (*Client, error) {
	cc := &clientConfig{
		logger: slog.Default(),
		labels: make(map[string]string),
	}
	for _, opt := range options {
		opt(cc)
	}

	launcher := cc.launcher
	if launcher == nil {
		var err error
		launcher, err = newLauncher(cfg, cc)
		if err != nil {
			return nil, err
		}
	}

	opts := []bridge.BridgeOption{
		bridge.WithAddress(cfg.Remote.URL),
		bridge.WithBridgeQuery(cfg.Bridge.QueryParam, cfg.Bridge.QueryValue),
		bridge.WithLogger(cc.logger),
	}
	if cfg.Bridge.ReadyTimeout > 0 {
		opts = append(opts, bridge.WithReadyTimeout(cfg.Bridge.ReadyTimeout))
	}
	if cfg.Bridge.RequestTimeout > 0 {
		opts = append(opts, bridge.WithRequestTimeout(cfg.Bridge.RequestTimeout))
	}
	opts = append(opts, cc.bridgeOptions...)

	b, err := bridge.NewBridge(launcher, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}

	chain := interceptors.NewChain(cc.logger)
	for _, interceptor := range cc.interceptors {
		chain.Add(interceptor)
	}

	return &Client{
		bridge:   b,
		activity: bridge.NewActivity(bridge.WithLabels(cc.labels)),
		chain:    chain,
		config:   cfg,
		logger:   cc.logger,
	}, nil
}

func newLauncher(cfg config.Config, cc *clientConfig) (bridge.Launcher, error) {
	switch cfg.Remote.Transport {
	case config.TransportWebSocket, "":
		return websocket.NewLauncher(websocket.WithLogger(cc.logger)), nil

	case config.TransportAMQP:
		return rabbitmqTransport.NewLauncher(
			rabbitmqTransport.WithQueryParam(cfg.Bridge.QueryParam),
			rabbitmqTransport.WithLogger(cc.logger),
			rabbitmqTransport.WithConnectionOptions(rabbitmq.WithLogger(cc.logger)),
		), nil

	case config.TransportMemory:
		responder := cc.responder
		if responder == nil {
			responder = remote.NewResponder(remote.WithLogger(cc.logger))
			if err := remote.RegisterDemo(responder); err != nil {
				return nil, err
			}
		}
		return memory.NewLauncher(responder, memory.WithLogger(cc.logger))

	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Remote.Transport)
	}
}

// Call invokes method in the remote context. The activity signal is busy
// for the duration of the call.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	end := c.activity.Begin(method)
	defer end()

	return c.chain.Execute(ctx, interceptors.Call{Method: method, Args: args}, interceptors.InvokerFunc(c.invoke))
}

func (c *Client) invoke(ctx context.Context, call interceptors.Call) (json.RawMessage, error) {
	return c.bridge.Invoke(ctx, call.Method, call.Args...)
}

// CallTyped invokes method and decodes its result into T
func CallTyped[T any](ctx context.Context, c *Client, method string, args ...any) (T, error) {
	var zero T

	raw, err := c.Call(ctx, method, args...)
	if err != nil || len(raw) == 0 {
		return zero, err
	}

	var typed T
	if err := json.Unmarshal(raw, &typed); err != nil {
		return zero, fmt.Errorf("failed to decode result of %s: %w", method, err)
	}
	return typed, nil
}

// IsConfigured reports whether a remote address is configured
func (c *Client) IsConfigured() bool {
	return c.bridge.IsConfigured()
}

// HealthCheckers returns the checkers describing this client's remote
// context, for registration with a health.Registry
func (c *Client) HealthCheckers() []health.Checker {
	return []health.Checker{health.NewBridgeChecker(c.bridge)}
}

// Health runs the client's checkers and reports the result
func (c *Client) Health(ctx context.Context) health.Report {
	registry := health.NewRegistry()
	for _, checker := range c.HealthCheckers() {
		registry.Register(checker)
	}
	return registry.Check(ctx)
}

// Bridge returns the underlying bridge
func (c *Client) Bridge() *bridge.Bridge {
	return c.bridge
}

// Activity returns the busy signal
func (c *Client) Activity() *bridge.Activity {
	return c.activity
}

// Config returns the configuration the client was built from
func (c *Client) Config() config.Config {
	return c.config
}

// Close fails outstanding calls and releases the remote context
func (c *Client) Close() error {
	if err := c.bridge.Close(); err != nil {
		return fmt.Errorf("failed to close bridge: %w", err)
	}
	return nil
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithLauncher bypasses transport selection
func WithLauncher(launcher bridge.Launcher) ClientOption {
	return func(c *clientConfig) {
		c.launcher = launcher
	}
}

// WithResponder serves the memory transport with responder instead of the
// demo methods
func WithResponder(responder *remote.Responder) ClientOption {
	return func(c *clientConfig) {
		c.responder = responder
	}
}

// WithActivityLabel sets the busy label shown while method runs
func WithActivityLabel(method, label string) ClientOption {
	return func(c *clientConfig) {
		c.labels[method] = label
	}
}

// WithInterceptors wraps every Call in the given interceptors, outermost first
func WithInterceptors(list ...interceptors.Interceptor) ClientOption {
	return func(c *clientConfig) {
		c.interceptors = append(c.interceptors, list...)
	}
}

// WithBridgeOptions passes options through to the bridge
func WithBridgeOptions(opts ...bridge.BridgeOption) ClientOption {
	return func(c *clientConfig) {
		c.bridgeOptions = append(c.bridgeOptions, opts...)
	}
}
