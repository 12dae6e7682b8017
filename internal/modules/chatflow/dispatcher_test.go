package chatflow

import (
	"context"
	"testing"
	"time"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

type blockingHandler struct {
	started chan string
	release chan struct{}
}

func (h *blockingHandler) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	if req.Message == "panic" {
		panic("boom")
	}
	h.started <- req.SessionID
	select {
	case <-h.release:
	case <-ctx.Done():
		return TurnResponse{}, ctx.Err()
	}
	return TurnResponse{SessionID: req.SessionID, AssistantMessage: "done"}, nil
}

func TestDispatcher_RejectsSecondTurnForSameSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &blockingHandler{started: make(chan string, 4), release: make(chan struct{})}
	locker := locks.NewRegistry()
	d := NewDispatcher(logger.NewNop(), h, locker, DispatcherOptions{Workers: 2})
	d.Start(ctx)

	first := make(chan error, 1)
	go func() {
		_, err := d.Submit(ctx, TurnRequest{SessionID: "s1", OwnerID: "o", Message: "hi"})
		first <- err
	}()
	select {
	case <-h.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first turn never started")
	}

	_, err := d.Submit(ctx, TurnRequest{SessionID: "s1", OwnerID: "o", Message: "again"})
	if !domainagg.IsCode(err, domainagg.CodeBusy) {
		t.Fatalf("second turn: want code=%s got=%v", domainagg.CodeBusy, err)
	}

	other := make(chan error, 1)
	go func() {
		_, err := d.Submit(ctx, TurnRequest{SessionID: "s2", OwnerID: "o", Message: "hi"})
		other <- err
	}()
	select {
	case id := <-h.started:
		if id != "s2" {
			t.Fatalf("other session: want=s2 got=%s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("other session was blocked")
	}

	close(h.release)
	for _, ch := range []chan error{first, other} {
		if err := <-ch; err != nil {
			t.Fatalf("turn: %v", err)
		}
	}
	if held, _ := locker.IsHeld(ctx, locks.TurnKey("s1")); held {
		t.Fatalf("turn lock must be released after the turn")
	}
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &blockingHandler{started: make(chan string, 1), release: make(chan struct{})}
	close(h.release)
	locker := locks.NewRegistry()
	d := NewDispatcher(logger.NewNop(), h, locker, DispatcherOptions{Workers: 1})
	d.Start(ctx)

	_, err := d.Submit(ctx, TurnRequest{SessionID: "s1", OwnerID: "o", Message: "panic"})
	if !domainagg.IsCode(err, domainagg.CodeInternal) {
		t.Fatalf("panic: want code=%s got=%v", domainagg.CodeInternal, err)
	}
	resp, err := d.Submit(ctx, TurnRequest{SessionID: "s1", OwnerID: "o", Message: "hi"})
	if err != nil || resp.AssistantMessage != "done" {
		t.Fatalf("worker should survive a panic: resp=%+v err=%v", resp, err)
	}
}

func TestDispatcher_CancelBypassesBusyCheck(t *testing.T) {
	ctx := context.Background()
	locker := locks.NewRegistry()
	release, _, _ := locker.TryLock(ctx, locks.TurnKey("s1"))
	defer release()

	var got TurnRequest
	h := handlerFunc(func(_ context.Context, req TurnRequest) (TurnResponse, error) {
		got = req
		return TurnResponse{SessionID: req.SessionID, Cancelled: true}, nil
	})
	d := NewDispatcher(logger.NewNop(), h, locker, DispatcherOptions{Workers: 1})

	resp, err := d.Submit(ctx, TurnRequest{SessionID: "s1", OwnerID: "o", Cancel: true})
	if err != nil || !resp.Cancelled || !got.Cancel {
		t.Fatalf("cancel: resp=%+v err=%v", resp, err)
	}
}

type handlerFunc func(ctx context.Context, req TurnRequest) (TurnResponse, error)

func (f handlerFunc) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	return f(ctx, req)
}
