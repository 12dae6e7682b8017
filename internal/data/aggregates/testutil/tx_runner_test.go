package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/coursebuilder-backend/internal/platform/dbctx"
)

func TestInjectedTxRunner_CommitsOnSuccess(t *testing.T) {
	r := &InjectedTxRunner{}
	called := false
	err := r.InTx(context.Background(), func(_ dbctx.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("want body run without error, called=%v err=%v", called, err)
	}
	if r.BeginCalls != 1 || r.CommitCalls != 1 || r.RollbackCalls != 0 {
		t.Fatalf("counters begin=%d commit=%d rollback=%d", r.BeginCalls, r.CommitCalls, r.RollbackCalls)
	}
}

func TestInjectedTxRunner_FailsFirstN(t *testing.T) {
	transient := errors.New("database is locked")
	r := &InjectedTxRunner{FailErr: transient, FailTimes: 2}
	calls := 0
	body := func(_ dbctx.Context) error { calls++; return nil }
	for i := 0; i < 2; i++ {
		if err := r.InTx(context.Background(), body); !errors.Is(err, transient) {
			t.Fatalf("attempt %d: want injected error, got %v", i+1, err)
		}
	}
	if err := r.InTx(context.Background(), body); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
	if calls != 1 {
		t.Fatalf("body calls: want=1 got=%d", calls)
	}
	if r.BeginCalls != 3 || r.RollbackCalls != 2 || r.CommitCalls != 1 {
		t.Fatalf("counters begin=%d commit=%d rollback=%d", r.BeginCalls, r.CommitCalls, r.RollbackCalls)
	}
}

func TestInjectedTxRunner_FailCommitTriggersRollback(t *testing.T) {
	commitErr := errors.New("commit failed")
	r := &InjectedTxRunner{FailCommit: commitErr}
	err := r.InTx(context.Background(), func(_ dbctx.Context) error { return nil })
	if !errors.Is(err, commitErr) {
		t.Fatalf("want commit err, got %v", err)
	}
	if r.CommitCalls != 0 || r.RollbackCalls != 1 {
		t.Fatalf("counters commit=%d rollback=%d", r.CommitCalls, r.RollbackCalls)
	}
}
