package aggregates

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

func TestMapError_Sentinels(t *testing.T) {
	cases := []struct {
		in   error
		want domainagg.ErrorCode
	}{
		{ValidationError("bad input"), domainagg.CodeValidation},
		{ConflictError("stale"), domainagg.CodeConflict},
		{NotFoundError("gone"), domainagg.CodeNotFound},
		{gorm.ErrRecordNotFound, domainagg.CodeNotFound},
		{InvariantError("broken"), domainagg.CodeInvariantViolation},
		{RetryableError("later"), domainagg.CodeRetryable},
	}
	for _, tc := range cases {
		if got := domainagg.CodeOf(MapError("op", tc.in)); got != tc.want {
			t.Fatalf("MapError(%v): want=%s got=%s", tc.in, tc.want, got)
		}
	}
}

func TestMapError_InfrastructureErrors(t *testing.T) {
	cases := []struct {
		in   error
		want domainagg.ErrorCode
	}{
		{&pgconn.PgError{Code: "40001"}, domainagg.CodeRetryable},
		{&pgconn.PgError{Code: "40P01"}, domainagg.CodeRetryable},
		{&pgconn.PgError{Code: "23505"}, domainagg.CodeConflict},
		{errors.New("database is locked"), domainagg.CodeRetryable},
		{errors.New("UNIQUE constraint failed: conversation_session.id"), domainagg.CodeConflict},
		{errors.New("disk I/O error"), domainagg.CodeStorage},
		{fmt.Errorf("query: %w", context.Canceled), domainagg.CodeCanceled},
		{context.DeadlineExceeded, domainagg.CodeCanceled},
	}
	for _, tc := range cases {
		if got := domainagg.CodeOf(MapError("op", tc.in)); got != tc.want {
			t.Fatalf("MapError(%v): want=%s got=%s", tc.in, tc.want, got)
		}
	}
}

func TestMapError_PassthroughAggregateError(t *testing.T) {
	in := domainagg.NewError(domainagg.CodeRetryable, "op", "retry", errors.New("boom"))
	if out := MapError("other", fmt.Errorf("wrapped: %w", in)); domainagg.CodeOf(out) != domainagg.CodeRetryable {
		t.Fatalf("expected passthrough aggregate error, got %v", out)
	}
}

func TestFinalizeError_ExhaustedRetriesBecomeStorage(t *testing.T) {
	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{RequestID: "req-7"})
	last := MapError("op", errors.New("database is locked"))
	out := finalizeError(ctx, "op", errors.Join(retry.ErrExhausted, last))
	if !domainagg.IsCode(out, domainagg.CodeStorage) {
		t.Fatalf("want storage code, got %v", out)
	}
	if domainagg.CorrelationOf(out) != "req-7" {
		t.Fatalf("correlation: want=req-7 got=%q", domainagg.CorrelationOf(out))
	}
	conflict := MapError("op", ConflictError("stale"))
	if finalizeError(ctx, "op", conflict) != conflict {
		t.Fatalf("conflicts must pass through unchanged")
	}
}

func TestFinalizeError_CallerCancellationIsNotStorage(t *testing.T) {
	ctx, cancel := context.WithCancel(ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{RequestID: "req-8"}))
	cancel()
	out := finalizeError(ctx, "op", errors.Join(MapError("op", errors.New("database is locked")), ctx.Err()))
	if got := domainagg.CodeOf(out); got != domainagg.CodeCanceled {
		t.Fatalf("code: want=%s got=%s", domainagg.CodeCanceled, got)
	}
	if id := domainagg.CorrelationOf(out); id != "" {
		t.Fatalf("cancelled requests carry no correlation id, got %q", id)
	}
}
