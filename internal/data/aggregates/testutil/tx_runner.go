package testutil

import (
	"context"
	"sync"

	"github.com/yungbote/coursebuilder-backend/internal/data/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/dbctx"
)

// InjectedTxRunner wraps an optional real runner and injects failures.
// FailTimes > 0 makes the first FailTimes transactions fail with FailErr before the body runs.
type InjectedTxRunner struct {
	mu sync.Mutex

	Inner      aggregates.TxRunner
	FailErr    error
	FailTimes  int
	FailCommit error

	BeginCalls    int
	CommitCalls   int
	RollbackCalls int
}

var _ aggregates.TxRunner = (*InjectedTxRunner)(nil)

func (r *InjectedTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.BeginCalls++
	inject := r.FailErr != nil && r.FailTimes > 0
	if inject {
		r.FailTimes--
	}
	failErr := r.FailErr
	failCommit := r.FailCommit
	r.mu.Unlock()

	if inject {
		r.count(&r.RollbackCalls)
		return failErr
	}
	body := func(dbc dbctx.Context) error {
		if fn == nil {
			return nil
		}
		if err := fn(dbc); err != nil {
			return err
		}
		return failCommit
	}
	var err error
	if r.Inner != nil {
		err = r.Inner.InTx(ctx, body)
	} else {
		err = body(dbctx.Context{Ctx: ctx})
	}
	if err != nil {
		r.count(&r.RollbackCalls)
		return err
	}
	r.count(&r.CommitCalls)
	return nil
}

func (r *InjectedTxRunner) count(field *int) {
	r.mu.Lock()
	*field++
	r.mu.Unlock()
}
