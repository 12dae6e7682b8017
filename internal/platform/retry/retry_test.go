package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

var errTransient = errors.New("transient")

// runWithMock drives the mock clock until Do returns.
func runWithMock(t *testing.T, mock *clock.Mock, p Policy, fn func(ctx context.Context, attempt int) error) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Do(context.Background(), fn) }()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatalf("retry loop did not finish")
			return nil
		default:
			mock.Add(100 * time.Millisecond)
		}
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	mock := clock.NewMock()
	var waits []time.Duration
	p := Policy{
		MaxAttempts: 3,
		NewBackOff:  Exponential(time.Second, 10*time.Second),
		Clock:       mock,
		OnRetry:     func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) },
	}
	calls := 0
	err := runWithMock(t, mock, p, func(context.Context, int) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
	if len(waits) != 2 {
		t.Fatalf("waits: want=2 got=%d", len(waits))
	}
	if waits[1] <= waits[0]/2 {
		t.Fatalf("backoff did not grow: %v", waits)
	}
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	mock := clock.NewMock()
	p := Policy{MaxAttempts: 3, NewBackOff: Constant(time.Second), Clock: mock}
	calls := 0
	err := runWithMock(t, mock, p, func(context.Context, int) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, errTransient) {
		t.Fatalf("want exhausted+transient, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		MaxAttempts: 3,
		Clock:       clock.NewMock(),
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || errors.Is(err, ErrExhausted) {
		t.Fatalf("want permanent error unwrapped, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, NewBackOff: Constant(time.Hour), Clock: clock.NewMock()}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context, int) error { return errTransient })
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Do did not observe cancellation")
	}
}
