package reliability

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides whether a failed send is attempted again
type RetryPolicy interface {
	// Backoff reports how long to wait after the given failure, counted
	// from 1, or false to give up.
	Backoff(failures int, err error) (time.Duration, bool)
}

// Exponential multiplies the wait by Factor after every failure, up to Cap
type Exponential struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Limit  int     // retries allowed, negative for no limit
	Spread float64 // fraction of the delay randomised in either direction
}

// NewExponential doubles from base up to ceiling with 15% spread
func NewExponential(base, ceiling time.Duration, limit int) *Exponential {
	return &Exponential{
		Base:   base,
		Cap:    ceiling,
		Factor: 2,
		Limit:  limit,
		Spread: 0.15,
	}
}

// Backoff implements RetryPolicy
func (e *Exponential) Backoff(failures int, err error) (time.Duration, bool) {
	if !allowed(e.Limit, failures, err) {
		return 0, false
	}
	return e.Delay(failures), true
}

// Delay returns the wait after the given failure
func (e *Exponential) Delay(failures int) time.Duration {
	d := float64(e.Base)
	for i := 1; i < failures && d < float64(e.Cap); i++ {
		d *= e.Factor
	}
	if d > float64(e.Cap) {
		d = float64(e.Cap)
	}
	if e.Spread > 0 {
		d += (rand.Float64()*2 - 1) * e.Spread * d
	}
	return time.Duration(d)
}

// Constant waits the same time after every failure
type Constant struct {
	Wait  time.Duration
	Limit int // retries allowed, negative for no limit
}

// NewConstant creates a constant policy
func NewConstant(wait time.Duration, limit int) *Constant {
	return &Constant{Wait: wait, Limit: limit}
}

// Backoff implements RetryPolicy
func (c *Constant) Backoff(failures int, err error) (time.Duration, bool) {
	if !allowed(c.Limit, failures, err) {
		return 0, false
	}
	return c.Wait, true
}

func allowed(limit, failures int, err error) bool {
	if !IsRetryableError(err) {
		return false
	}
	return limit < 0 || failures <= limit
}

// Retry calls fn until it succeeds, the policy gives up or ctx ends. An
// error that was never retried comes back unchanged; otherwise the last
// failure is wrapped in a *RetryError.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	start := time.Now()

	for failures := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		failures++

		wait, ok := policy.Backoff(failures, err)
		if !ok {
			if failures == 1 || !IsRetryableError(err) {
				return err
			}
			return &RetryError{Attempts: failures, LastError: err, Duration: time.Since(start)}
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
