package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/glimte/rpcbridge/contracts"
	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

// Launcher dials remote contexts served over WebSocket
type Launcher struct {
	dialer *gws.Dialer
	header http.Header
	logger *slog.Logger
}

// LauncherOption configures the launcher
type LauncherOption func(*Launcher)

// WithDialer replaces gorilla's default dialer
func WithDialer(dialer *gws.Dialer) LauncherOption {
	return func(l *Launcher) {
		l.dialer = dialer
	}
}

// WithHeader adds headers to the opening handshake
func WithHeader(header http.Header) LauncherOption {
	return func(l *Launcher) {
		l.header = header
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// NewLauncher creates a WebSocket launcher
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		dialer: gws.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WebSocketURL maps an http(s) bridge URL onto its ws(s) equivalent
func WebSocketURL(bridgeURL string) (string, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q for websocket transport", u.Scheme)
	}
	return u.String(), nil
}

// Launch implements bridge.Launcher
func (l *Launcher) Launch(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
	wsURL, err := WebSocketURL(bridgeURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := l.dialer.DialContext(ctx, wsURL, l.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	c := &Conn{
		id:      uuid.NewString(),
		conn:    conn,
		origin:  contracts.OriginOf(bridgeURL),
		inbound: inbound,
		logger:  l.logger,
		done:    make(chan struct{}),
	}
	go c.readLoop()
	context.AfterFunc(ctx, func() { _ = c.Close() })

	l.logger.Debug("connected to remote context", "url", wsURL, "conn", c.id)
	return c, nil
}

// Conn is the calling side of one WebSocket channel
type Conn struct {
	id      string
	conn    *gws.Conn
	origin  string
	inbound func(contracts.Envelope)
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Post implements contracts.Endpoint
func (c *Conn) Post(ctx context.Context, targetOrigin string, data []byte) error {
	if !contracts.OriginMatches(targetOrigin, c.origin) {
		return &contracts.OriginError{Want: targetOrigin, Have: c.origin}
	}

	select {
	case <-c.done:
		return contracts.ErrEndpointClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Zero clears any earlier deadline.
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(gws.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
					c.logger.Warn("remote context connection lost", "conn", c.id, "origin", c.origin, "error", err)
				}
			}
			return
		}
		c.inbound(contracts.Envelope{Data: data, Origin: c.origin, Source: c})
	}
}

// ID identifies the connection in logs
func (c *Conn) ID() string {
	return c.id
}

// Done is closed once the connection is gone
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
