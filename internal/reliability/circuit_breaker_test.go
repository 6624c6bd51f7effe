package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualNow struct {
	mu sync.Mutex
	t  time.Time
}

func (m *manualNow) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *manualNow) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}

func newTestBreaker(clock *manualNow, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := NewCircuitBreaker(opts...)
	cb.now = clock.now
	return cb
}

var errSend = errors.New("send failed")

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("starts closed and runs sends", func(t *testing.T) {
		cb := NewCircuitBreaker()
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, "bridge-send", cb.Name())

		sent := false
		err := cb.Execute(ctx, func() error {
			sent = true
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, sent)
	})

	t.Run("opens after failure threshold and blocks sends", func(t *testing.T) {
		clock := &manualNow{t: time.Unix(1000, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(3), WithName("endpoint"))

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(ctx, func() error { return errSend }), errSend)
		}
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, "endpoint", cbErr.Name)
		assert.Equal(t, 3, cbErr.Failures)
		assert.False(t, IsRetryableError(err))
	})

	t.Run("success in closed state resets failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		_ = cb.Execute(ctx, func() error { return errSend })
		_ = cb.Execute(ctx, func() error { return nil })
		_ = cb.Execute(ctx, func() error { return errSend })

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open probe closes circuit after successes", func(t *testing.T) {
		clock := &manualNow{t: time.Unix(1000, 0)}
		cb := newTestBreaker(clock,
			WithFailureThreshold(1),
			WithSuccessThreshold(2),
			WithOpenTimeout(time.Second),
		)

		_ = cb.Execute(ctx, func() error { return errSend })
		require.Equal(t, StateOpen, cb.State())

		clock.advance(1500 * time.Millisecond)
		assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
		assert.Equal(t, StateHalfOpen, cb.State())

		assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("failure while half-open reopens", func(t *testing.T) {
		clock := &manualNow{t: time.Unix(1000, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithOpenTimeout(time.Second))

		_ = cb.Execute(ctx, func() error { return errSend })
		clock.advance(2 * time.Second)

		assert.ErrorIs(t, cb.Execute(ctx, func() error { return errSend }), errSend)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("limits concurrent half-open probes", func(t *testing.T) {
		clock := &manualNow{t: time.Unix(1000, 0)}
		cb := newTestBreaker(clock, WithFailureThreshold(1), WithOpenTimeout(time.Second), WithHalfOpenRequests(1))

		_ = cb.Execute(ctx, func() error { return errSend })
		clock.advance(2 * time.Second)

		probing := make(chan struct{})
		finish := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- cb.Execute(ctx, func() error {
				close(probing)
				<-finish
				return nil
			})
		}()
		<-probing

		err := cb.Execute(ctx, func() error { return nil })
		assert.ErrorIs(t, err, ErrCircuitHalfOpenLimit)

		close(finish)
		assert.NoError(t, <-done)
	})

	t.Run("cancelled context does not run send", func(t *testing.T) {
		cb := NewCircuitBreaker()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		called := false
		err := cb.Execute(cctx, func() error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("notifies listeners of transitions", func(t *testing.T) {
		changes := make(chan State, 4)
		cb := NewCircuitBreaker(
			WithFailureThreshold(1),
			WithStateChangeListener(StateChangeFunc(func(name string, from, to State, reason string) {
				changes <- to
			})),
		)

		_ = cb.Execute(ctx, func() error { return errSend })

		select {
		case to := <-changes:
			assert.Equal(t, StateOpen, to)
		case <-time.After(time.Second):
			t.Fatal("no state change notification")
		}

		cb.Reset()
		select {
		case to := <-changes:
			assert.Equal(t, StateClosed, to)
		case <-time.After(time.Second):
			t.Fatal("no reset notification")
		}
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
