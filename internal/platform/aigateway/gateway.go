package aigateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
)

// Gateway sends one prompt plus the session history to a language model and returns its reply.
type Gateway interface {
	Send(ctx context.Context, prompt string, history []conversation.Message) (string, error)
}

type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindRateLimited        Kind = "rate_limited"
	KindUnauthorized       Kind = "unauthorized"
	KindServiceUnavailable Kind = "service_unavailable"
	KindUnknown            Kind = "unknown"
)

// Error is the only error type a Gateway returns. BeforeResponse is true when the
// upstream provably did no work, which is the only case a retry is safe.
type Error struct {
	Kind           Kind
	BeforeResponse bool
	StatusCode     int
	Cause          error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "ai gateway " + string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) && ge != nil {
		return ge, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if ge, ok := AsError(err); ok {
		return ge.Kind
	}
	if err == nil {
		return ""
	}
	return KindUnknown
}

// IsRetryable reports whether err came from a call the upstream never started.
func IsRetryable(err error) bool {
	ge, ok := AsError(err)
	if !ok || !ge.BeforeResponse {
		return false
	}
	return ge.Kind != KindUnauthorized
}

// Func adapts a plain function to Gateway; tests use it as a fake.
type Func func(ctx context.Context, prompt string, history []conversation.Message) (string, error)

func (f Func) Send(ctx context.Context, prompt string, history []conversation.Message) (string, error) {
	return f(ctx, prompt, history)
}
