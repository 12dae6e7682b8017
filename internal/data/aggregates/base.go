package aggregates

import (
	"context"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

const defaultStoreAttempts = 3

type BaseDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Runner   TxRunner
	Hooks    Hooks
	CASGuard CASGuard
	Clock    clock.Clock
	// Retry governs transient storage failures; Retryable and OnRetry are overridden.
	Retry retry.Policy
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.CASGuard.db == nil {
		d.CASGuard = NewCASGuard(d.DB)
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Retry.MaxAttempts <= 0 {
		d.Retry.MaxAttempts = defaultStoreAttempts
	}
	if d.Retry.Clock == nil {
		d.Retry.Clock = d.Clock
	}
	if d.Retry.NewBackOff == nil {
		d.Retry.NewBackOff = retry.Exponential(50*time.Millisecond, time.Second)
	}
	return d
}

func (d BaseDeps) policy(op string) retry.Policy {
	p := d.Retry
	p.Retryable = func(err error) bool { return domainagg.IsCode(err, domainagg.CodeRetryable) }
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.Hooks.IncRetry(op)
		d.Log.Warn("transient storage failure, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return p
}

// executeWrite runs fn in a transaction, retrying transient failures with a fresh
// transaction each time.
func executeWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	deps = deps.withDefaults()
	return execute(ctx, deps, op, func(ctx context.Context) error {
		return deps.Runner.InTx(ctx, fn)
	})
}

// executeRead runs fn outside a transaction with the same retry and mapping rules.
func executeRead(ctx context.Context, deps BaseDeps, op string, fn func(db *gorm.DB) error) error {
	deps = deps.withDefaults()
	return execute(ctx, deps, op, func(ctx context.Context) error {
		if deps.DB == nil {
			return domainagg.NewError(domainagg.CodeInternal, op, "store has nil db", nil)
		}
		return fn(deps.DB.WithContext(ctx))
	})
}

func execute(ctx context.Context, deps BaseDeps, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "aggregate.op"
	}
	err := deps.policy(op).Do(ctx, func(ctx context.Context, _ int) error {
		return MapError(op, fn(ctx))
	})
	mapped := finalizeError(ctx, op, err)

	status := "success"
	if mapped != nil {
		status = aggregateErrorStatus(mapped)
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			deps.Hooks.IncConflict(op)
		}
		if domainagg.IsCode(mapped, domainagg.CodeStorage) {
			deps.Log.Error("storage operation failed", "op", op, "correlation_id", domainagg.CorrelationOf(mapped), "error", err)
		}
	}
	deps.Hooks.ObserveOperation(op, status, time.Since(start))
	return mapped
}

func aggregateErrorStatus(err error) string {
	if err == nil {
		return "success"
	}
	code := strings.TrimSpace(string(domainagg.CodeOf(err)))
	if code == "" {
		return "failure"
	}
	return code
}
