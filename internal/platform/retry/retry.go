package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/facebookgo/clock"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes a bounded retry loop. The zero value performs a single attempt.
type Policy struct {
	MaxAttempts int
	// NewBackOff returns a fresh schedule per Do call; nil means exponential defaults.
	NewBackOff func() backoff.BackOff
	Clock      clock.Clock
	// Retryable decides whether err deserves another attempt; nil retries everything.
	Retryable func(err error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Exponential doubles from initial up to max, with the library default jitter.
func Exponential(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if max > 0 {
			b.MaxInterval = max
		}
		b.Multiplier = 2
		b.Reset()
		return b
	}
}

// Constant is mostly useful in tests where jitter would make waits unpredictable.
func Constant(d time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
}

// Do runs fn until it succeeds, returns a non-retryable error, attempts run out or ctx ends.
// fn receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if fn == nil {
		return nil
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	newBackOff := p.NewBackOff
	if newBackOff == nil {
		newBackOff = Exponential(200*time.Millisecond, 5*time.Second)
	}
	b := newBackOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(lastErr, err)
			}
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-clk.After(wait):
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}
