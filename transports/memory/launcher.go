// Package memory hosts remote contexts inside the current process. Every
// delivery runs on its own goroutine, so frames arrive in no particular order,
// the same as on a real shared channel.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/rpcbridge/contracts"
	"github.com/glimte/rpcbridge/remote"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Launcher starts in-process remote contexts backed by a responder
type Launcher struct {
	responder  *remote.Responder
	origin     string
	readyDelay time.Duration
	noReady    bool
	foreign    [][]byte
	logger     *slog.Logger

	launches *atomic.Int32
}

// LauncherOption configures the launcher
type LauncherOption func(*Launcher)

// WithOrigin overrides the origin contexts report; the bridge URL origin is
// used otherwise
func WithOrigin(origin string) LauncherOption {
	return func(l *Launcher) {
		l.origin = origin
	}
}

// WithReadyDelay postpones the ready-signal
func WithReadyDelay(delay time.Duration) LauncherOption {
	return func(l *Launcher) {
		l.readyDelay = delay
	}
}

// WithoutReadySignal makes contexts that never signal readiness
func WithoutReadySignal() LauncherOption {
	return func(l *Launcher) {
		l.noReady = true
	}
}

// WithForeignTraffic delivers unrelated frames on launch, as other
// participants of a shared channel would
func WithForeignTraffic(frames ...[]byte) LauncherOption {
	return func(l *Launcher) {
		l.foreign = append(l.foreign, frames...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// NewLauncher creates a launcher serving requests with responder
func NewLauncher(responder *remote.Responder, opts ...LauncherOption) (*Launcher, error) {
	if responder == nil {
		return nil, fmt.Errorf("responder cannot be nil")
	}

	l := &Launcher{
		responder: responder,
		logger:    slog.Default(),
		launches:  atomic.NewInt32(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Launches returns how many contexts have been started
func (l *Launcher) Launches() int {
	return int(l.launches.Load())
}

// Launch implements bridge.Launcher
func (l *Launcher) Launch(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
	if inbound == nil {
		return nil, fmt.Errorf("inbound cannot be nil")
	}

	origin := l.origin
	if origin == "" {
		origin = contracts.OriginOf(bridgeURL)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rc := &Context{
		id:        uuid.New().String(),
		origin:    origin,
		inbound:   inbound,
		responder: l.responder,
		logger:    l.logger,
		ctx:       runCtx,
		cancel:    cancel,
	}
	l.launches.Inc()

	l.logger.Debug("started in-memory remote context", "context", rc.id, "url", bridgeURL)

	for _, frame := range l.foreign {
		rc.deliver(frame)
	}
	if !l.noReady {
		time.AfterFunc(l.readyDelay, func() {
			rc.deliver(remote.ReadySignal())
		})
	}
	return rc, nil
}

// Context is one running in-process remote context
type Context struct {
	id        string
	origin    string
	inbound   func(contracts.Envelope)
	responder *remote.Responder
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// ID identifies the context in logs
func (c *Context) ID() string {
	return c.id
}

// Origin returns the origin the context answers from
func (c *Context) Origin() string {
	return c.origin
}

// Post implements contracts.Endpoint
func (c *Context) Post(ctx context.Context, targetOrigin string, data []byte) error {
	if !contracts.OriginMatches(targetOrigin, c.origin) {
		return &contracts.OriginError{Want: targetOrigin, Have: c.origin}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return contracts.ErrEndpointClosed
	}

	payload := append([]byte(nil), data...)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if reply, ok := c.responder.Handle(c.ctx, payload); ok {
			c.deliver(reply)
		}
	}()
	return nil
}

func (c *Context) deliver(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.inbound(contracts.Envelope{Data: data, Origin: c.origin, Source: c})
	}()
}

// Close stops the context and waits for in-flight work to finish
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.logger.Debug("stopped in-memory remote context", "context", c.id)
	return nil
}
