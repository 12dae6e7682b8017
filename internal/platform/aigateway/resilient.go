package aigateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

type Options struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retry   retry.Policy
	// BreakerFailures opens the breaker after that many consecutive failed calls; 0 disables it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Metrics         *observability.Metrics
}

type resilient struct {
	inner   Gateway
	log     *logger.Logger
	opts    Options
	breaker *gobreaker.CircuitBreaker
}

// NewResilient wraps inner with a per-attempt timeout, pre-response retries and a circuit breaker.
func NewResilient(inner Gateway, log *logger.Logger, opts Options) Gateway {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("component", "AIGateway")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.NewBackOff == nil {
		opts.Retry.NewBackOff = retry.Exponential(500*time.Millisecond, 4*time.Second)
	}
	opts.Retry.Retryable = IsRetryable
	opts.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("ai call failed before response; retrying", "attempt", attempt, "kind", KindOf(err), "wait", wait.String())
	}

	r := &resilient{inner: inner, log: log, opts: opts}
	if opts.BreakerFailures > 0 {
		cooldown := opts.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		threshold := opts.BreakerFailures
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ai-gateway",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// Caller cancellation and bad credentials say nothing about upstream health.
				if err == nil || errors.Is(err, context.Canceled) {
					return true
				}
				return KindOf(err) == KindUnauthorized
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("ai breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return r
}

func (r *resilient) Send(ctx context.Context, prompt string, history []conversation.Message) (string, error) {
	start := time.Now()
	var out string
	var err error
	if r.breaker == nil {
		out, err = r.sendWithRetry(ctx, prompt, history)
	} else {
		var v interface{}
		v, err = r.breaker.Execute(func() (interface{}, error) {
			return r.sendWithRetry(ctx, prompt, history)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Kind: KindServiceUnavailable, BeforeResponse: true, Cause: err}
		} else if s, ok := v.(string); ok {
			out = s
		}
	}
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	r.opts.Metrics.ObserveAICall(result, time.Since(start))
	return out, err
}

func (r *resilient) sendWithRetry(ctx context.Context, prompt string, history []conversation.Message) (string, error) {
	var out string
	err := r.opts.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
		reply, err := r.inner.Send(callCtx, prompt, history)
		if err != nil {
			return normalize(ctx, callCtx, err)
		}
		out = reply
		return nil
	})
	if err != nil {
		return "", unwrapExhausted(err)
	}
	return out, nil
}

// normalize guarantees the caller sees an *Error; a deadline hit by the per-attempt
// timeout is a Timeout regardless of what the inner gateway reported.
func normalize(parent, call context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return err
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) {
		if ge, ok := AsError(err); ok && ge.Kind == KindTimeout {
			return ge
		}
		return &Error{Kind: KindTimeout, Cause: err}
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return &Error{Kind: KindUnknown, Cause: err}
}

// unwrapExhausted drops the retry sentinel so callers keep a plain *Error chain.
func unwrapExhausted(err error) error {
	if !errors.Is(err, retry.ErrExhausted) {
		return err
	}
	if ge, ok := AsError(err); ok {
		return ge
	}
	return err
}
