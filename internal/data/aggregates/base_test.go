package aggregates

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

type spyOperation struct {
	Name   string
	Status string
}

type spyHooks struct {
	mu         sync.Mutex
	Operations []spyOperation
	Conflicts  int
	Retries    int
}

func (h *spyHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Operations = append(h.Operations, spyOperation{Name: name, Status: status})
}
func (h *spyHooks) IncConflict(string) { h.mu.Lock(); h.Conflicts++; h.mu.Unlock() }
func (h *spyHooks) IncRetry(string)    { h.mu.Lock(); h.Retries++; h.mu.Unlock() }

type spyTxRunner struct{}

func (spyTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	return fn(dbctx.Context{Ctx: ctx})
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, NewBackOff: retry.Constant(time.Millisecond)}
}

func TestExecuteWriteObservesSuccessStatus(t *testing.T) {
	hooks := &spyHooks{}
	err := executeWrite(context.Background(), BaseDeps{Runner: spyTxRunner{}, Hooks: hooks, Retry: fastRetry()},
		"Session.Test", func(_ dbctx.Context) error { return nil })
	if err != nil {
		t.Fatalf("executeWrite: %v", err)
	}
	if len(hooks.Operations) != 1 || hooks.Operations[0].Status != "success" {
		t.Fatalf("operations: %+v", hooks.Operations)
	}
}

func TestExecuteWriteRetriesTransientFailures(t *testing.T) {
	hooks := &spyHooks{}
	calls := 0
	err := executeWrite(context.Background(), BaseDeps{Runner: spyTxRunner{}, Hooks: hooks, Retry: fastRetry()},
		"Session.Test", func(_ dbctx.Context) error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
	if err != nil {
		t.Fatalf("executeWrite: %v", err)
	}
	if calls != 3 || hooks.Retries != 2 {
		t.Fatalf("calls=%d retries=%d, want 3 and 2", calls, hooks.Retries)
	}
}

func TestExecuteWriteSurfacesStorageErrorAfterThreeAttempts(t *testing.T) {
	hooks := &spyHooks{}
	calls := 0
	err := executeWrite(context.Background(), BaseDeps{Runner: spyTxRunner{}, Hooks: hooks, Retry: fastRetry()},
		"Session.Test", func(_ dbctx.Context) error {
			calls++
			return errors.New("could not serialize access due to concurrent update: serialization failure")
		})
	if !domainagg.IsCode(err, domainagg.CodeStorage) {
		t.Fatalf("want storage code, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
	if domainagg.CorrelationOf(err) == "" {
		t.Fatalf("storage errors must carry a correlation id")
	}
}

func TestExecuteWriteNeverRetriesConflicts(t *testing.T) {
	hooks := &spyHooks{}
	calls := 0
	err := executeWrite(context.Background(), BaseDeps{Runner: spyTxRunner{}, Hooks: hooks, Retry: fastRetry()},
		"Session.Test", func(_ dbctx.Context) error {
			calls++
			return ConflictError("revision mismatch")
		})
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	if calls != 1 || hooks.Conflicts != 1 || hooks.Retries != 0 {
		t.Fatalf("calls=%d conflicts=%d retries=%d", calls, hooks.Conflicts, hooks.Retries)
	}
	if hooks.Operations[0].Status != string(domainagg.CodeConflict) {
		t.Fatalf("status: want=conflict got=%s", hooks.Operations[0].Status)
	}
}
