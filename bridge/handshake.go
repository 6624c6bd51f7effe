package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/glimte/rpcbridge/contracts"
)

// Phase is the handshake state
type Phase int

const (
	PhaseUnstarted Phase = iota
	PhaseAwaitingReady
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnstarted:
		return "unstarted"
	case PhaseAwaitingReady:
		return "awaiting-ready"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ChannelEndpoint is where requests go once the remote context is ready
type ChannelEndpoint struct {
	Target contracts.Endpoint
	Origin string
}

// Launcher instantiates the remote context at bridgeURL. Frames the context
// sends must be handed to inbound. The returned endpoint, if any, is used
// when the ready-signal does not identify its sender.
type Launcher interface {
	Launch(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error)
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error)

func (f LauncherFunc) Launch(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
	return f(ctx, bridgeURL, inbound)
}

// BuildBridgeURL appends the bridge-mode discriminator to the configured
// remote address
func BuildBridgeURL(address, param, value string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must be absolute, got %q", address)
	}

	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handshake launches the remote context once and records where to reach it
type handshake struct {
	mu       sync.Mutex
	phase    Phase
	done     chan struct{}
	launched chan struct{} // closed once Launch has returned
	err      error
	endpoint ChannelEndpoint
	remote   contracts.Endpoint
	timer    Timer

	bridgeURL string
	cancel    context.CancelFunc
	closed    bool

	launcher   Launcher
	address    func() string
	queryParam string
	queryValue string
	supervisor *timeoutSupervisor
	inbound    func(contracts.Envelope)
	logger     *slog.Logger
}

// configured reports whether an address is available without launching
func (h *handshake) configured() bool {
	return h.address != nil && strings.TrimSpace(h.address()) != ""
}

// ensure starts the handshake on first use and returns a channel that is
// closed once it is ready or failed. Configuration problems are returned
// directly and leave the handshake unstarted.
func (h *handshake) ensure() (<-chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.phase != PhaseUnstarted {
		return h.done, nil
	}

	address := ""
	if h.address != nil {
		address = strings.TrimSpace(h.address())
	}
	if address == "" {
		return nil, &ConfigError{Op: "resolve", Err: ErrNotConfigured}
	}

	bridgeURL, err := BuildBridgeURL(address, h.queryParam, h.queryValue)
	if err != nil {
		return nil, &ConfigError{Op: "parse", Address: address, Err: fmt.Errorf("%w: %v", ErrInvalidAddress, err)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.bridgeURL = bridgeURL
	h.cancel = cancel
	h.phase = PhaseAwaitingReady
	h.timer = h.supervisor.watchHandshake(h.expire)

	h.logger.Info("launching remote context", "url", bridgeURL, "timeout", h.supervisor.readyTimeout)
	go h.launch(ctx, bridgeURL)

	return h.done, nil
}

func (h *handshake) launch(ctx context.Context, bridgeURL string) {
	endpoint, err := h.launcher.Launch(ctx, bridgeURL, h.inbound)

	h.mu.Lock()
	defer h.mu.Unlock()
	defer close(h.launched)

	if err != nil {
		h.logger.Error("failed to launch remote context", "url", bridgeURL, "error", err)
		h.failLocked(&HandshakeError{URL: bridgeURL, Timeout: h.supervisor.readyTimeout, Err: err})
		return
	}
	if h.phase == PhaseFailed || h.closed {
		// Settled while launching; nobody will send to this context.
		if closer, ok := endpoint.(io.Closer); ok {
			_ = closer.Close()
		}
		return
	}
	h.remote = endpoint
}

// HandleReady completes the handshake from a ready-signal. Only the first
// signal counts; later ones leave the recorded endpoint alone.
func (h *handshake) HandleReady(env contracts.Envelope) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.phase != PhaseAwaitingReady {
		h.logger.Debug("ignoring ready-signal", "phase", h.phase, "origin", env.Origin)
		return false
	}

	origin := env.Origin
	if origin == "" {
		origin = contracts.OriginOf(h.bridgeURL)
	}
	if origin == "" {
		origin = contracts.AnyOrigin
	}

	h.endpoint = ChannelEndpoint{Target: env.Source, Origin: origin}
	h.phase = PhaseReady
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	close(h.done)

	h.logger.Info("remote context ready", "url", h.bridgeURL, "origin", origin)
	return true
}

// expire fails a handshake still waiting for readiness
func (h *handshake) expire() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.phase != PhaseAwaitingReady {
		return
	}
	h.logger.Error("remote context did not signal readiness",
		"url", h.bridgeURL,
		"timeout", h.supervisor.readyTimeout)
	h.failLocked(&HandshakeError{URL: h.bridgeURL, Timeout: h.supervisor.readyTimeout, Err: ErrHandshakeTimeout})
}

// failLocked must be called with mu held
func (h *handshake) failLocked(err error) {
	if h.phase == PhaseReady || h.phase == PhaseFailed {
		return
	}
	h.phase = PhaseFailed
	h.err = err
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
}

// wait blocks until done is closed or ctx ends, then reports the endpoint
func (h *handshake) wait(ctx context.Context, done <-chan struct{}) (ChannelEndpoint, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return ChannelEndpoint{}, ctx.Err()
	}

	h.mu.Lock()
	if h.phase == PhaseFailed {
		defer h.mu.Unlock()
		return ChannelEndpoint{}, h.err
	}
	needContext := h.endpoint.Target == nil
	h.mu.Unlock()

	// A ready-signal without a sender can arrive before Launch returns the
	// context it would fall back to. Launch gets one more ready deadline;
	// after that the caller proceeds without a delivery target.
	if needContext {
		expired := make(chan struct{})
		timer := h.supervisor.clock.AfterFunc(h.supervisor.readyTimeout, func() { close(expired) })
		defer timer.Stop()

		select {
		case <-h.launched:
		case <-expired:
			h.logger.Warn("remote context launch did not return after ready-signal",
				"url", h.bridgeURL,
				"timeout", h.supervisor.readyTimeout)
		case <-ctx.Done():
			return ChannelEndpoint{}, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resolvedLocked(), nil
}

// resolvedLocked falls back to the launched context when the ready-signal
// carried no sender
func (h *handshake) resolvedLocked() ChannelEndpoint {
	ep := h.endpoint
	if ep.Target == nil {
		ep.Target = h.remote
	}
	return ep
}

func (h *handshake) state() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

func (h *handshake) current() (ChannelEndpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != PhaseReady {
		return ChannelEndpoint{}, false
	}
	return h.resolvedLocked(), true
}

// close fails an unsettled handshake and releases the remote context
func (h *handshake) close() error {
	h.mu.Lock()
	h.closed = true
	if h.phase == PhaseUnstarted {
		h.phase = PhaseAwaitingReady
	}
	h.failLocked(&HandshakeError{URL: h.bridgeURL, Timeout: h.supervisor.readyTimeout, Err: ErrClosed})
	if h.cancel != nil {
		h.cancel()
	}
	launched := h.remote
	h.mu.Unlock()

	if closer, ok := launched.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
