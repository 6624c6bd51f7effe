package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glimte/rpcbridge/contracts"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const (
	testAddress = "https://script.example.com/macros/s/abc/exec"
	testOrigin  = "https://script.example.com"
	waitTimeout = 2 * time.Second
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualClock fires deadlines only when advanced
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	due     time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, due: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every deadline that came due
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.due <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// Armed returns the number of deadlines neither fired nor stopped
func (c *manualClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingEndpoint captures every frame posted to it
type recordingEndpoint struct {
	posted chan []byte
	closed *atomic.Bool
}

func newRecordingEndpoint() *recordingEndpoint {
	return &recordingEndpoint{
		posted: make(chan []byte, 32),
		closed: atomic.NewBool(false),
	}
}

func (e *recordingEndpoint) Post(ctx context.Context, targetOrigin string, data []byte) error {
	e.posted <- data
	return nil
}

func (e *recordingEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}

// nextRequest waits for the next posted request frame
func (e *recordingEndpoint) nextRequest(t *testing.T) *contracts.Request {
	t.Helper()
	select {
	case data := <-e.posted:
		frame, err := contracts.Decode(data)
		require.NoError(t, err)
		req, ok := frame.(*contracts.Request)
		require.True(t, ok, "posted frame is %T", frame)
		return req
	case <-time.After(waitTimeout):
		t.Fatal("no request was posted")
		return nil
	}
}

func (e *recordingEndpoint) assertNothingPosted(t *testing.T) {
	t.Helper()
	select {
	case data := <-e.posted:
		t.Fatalf("unexpected frame posted: %s", data)
	case <-time.After(20 * time.Millisecond):
	}
}

// mockEndpoint lets tests script Post results
type mockEndpoint struct {
	mock.Mock
}

func (m *mockEndpoint) Post(ctx context.Context, targetOrigin string, data []byte) error {
	args := m.Called(ctx, targetOrigin, data)
	return args.Error(0)
}

// fakeLauncher records launches and hands the inbound callback to the test
type fakeLauncher struct {
	endpoint contracts.Endpoint
	err      error
	onLaunch func(inbound func(contracts.Envelope))

	count   *atomic.Int32
	mu      sync.Mutex
	url     string
	inbound chan func(contracts.Envelope)
}

func newFakeLauncher(endpoint contracts.Endpoint) *fakeLauncher {
	return &fakeLauncher{
		endpoint: endpoint,
		count:    atomic.NewInt32(0),
		inbound:  make(chan func(contracts.Envelope), 4),
	}
}

func (l *fakeLauncher) Launch(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
	l.count.Inc()
	l.mu.Lock()
	l.url = bridgeURL
	l.mu.Unlock()

	if l.onLaunch != nil {
		l.onLaunch(inbound)
	}
	l.inbound <- inbound

	if l.err != nil {
		return nil, l.err
	}
	return l.endpoint, nil
}

func (l *fakeLauncher) launchedURL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

// waitLaunch blocks until Launch has been called and returns its inbound
func (l *fakeLauncher) waitLaunch(t *testing.T) func(contracts.Envelope) {
	t.Helper()
	select {
	case inbound := <-l.inbound:
		return inbound
	case <-time.After(waitTimeout):
		t.Fatal("remote context was never launched")
		return nil
	}
}

func readyEnvelope(source contracts.Endpoint, origin string) contracts.Envelope {
	data, _ := contracts.Encode(contracts.NewReadySignal())
	return contracts.Envelope{Data: data, Origin: origin, Source: source}
}

func okEnvelope(t *testing.T, id string, result any) contracts.Envelope {
	t.Helper()
	resp, err := contracts.NewSuccessResponse(id, result)
	require.NoError(t, err)
	data, err := contracts.Encode(resp)
	require.NoError(t, err)
	return contracts.Envelope{Data: data, Origin: testOrigin}
}

func errorEnvelope(t *testing.T, id, message string) contracts.Envelope {
	t.Helper()
	data, err := contracts.Encode(contracts.NewErrorResponse(id, message))
	require.NoError(t, err)
	return contracts.Envelope{Data: data, Origin: testOrigin}
}

type invokeResult struct {
	result json.RawMessage
	err    error
}

// invokeAsync runs Invoke on its own goroutine
func invokeAsync(ctx context.Context, b *Bridge, method string, args ...any) <-chan invokeResult {
	out := make(chan invokeResult, 1)
	go func() {
		result, err := b.Invoke(ctx, method, args...)
		out <- invokeResult{result: result, err: err}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan invokeResult) invokeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("invoke did not settle")
		return invokeResult{}
	}
}

func assertPending(t *testing.T, ch <-chan invokeResult) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("invoke settled early: result=%s err=%v", r.result, r.err)
	case <-time.After(20 * time.Millisecond):
	}
}
