package chatflow

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/yungbote/coursebuilder-backend/internal/data/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
)

type autoSaveFixture struct {
	saver  *AutoSaver
	store  domainagg.SessionStore
	clock  *clock.Mock
	locker *locks.Registry
}

func newAutoSaver(t *testing.T) autoSaveFixture {
	t.Helper()
	log := testutil.Logger(t)
	store := aggregates.NewSessionStore(aggregates.SessionStoreDeps{
		Base: aggregates.BaseDeps{DB: testutil.DB(t), Log: log},
	})
	mock := clock.NewMock()
	locker := locks.NewRegistry()
	saver := NewAutoSaver(log, store, locker, mock, nil, AutoSaveOptions{Interval: 30 * time.Second, StaleBuffer: 4})
	return autoSaveFixture{saver: saver, store: store, clock: mock, locker: locker}
}

func TestAutoSave_TickSavesDirtySessions(t *testing.T) {
	f := newAutoSaver(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{Title: "draft"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.saver.Track(sess)
	local := sess.Clone()
	local.Title = "renamed"
	f.saver.Update(local)

	f.saver.Start(ctx)
	f.clock.Add(30 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for f.saver.Dirty(sess.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("tick did not save the dirty session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stored, err := f.store.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.Title != "renamed" || stored.Revision != 2 {
		t.Fatalf("stored: title=%q revision=%d", stored.Title, stored.Revision)
	}
	tracked, _ := f.saver.Get(sess.ID)
	if tracked.Revision != 2 {
		t.Fatalf("tracked revision: want=2 got=%d", tracked.Revision)
	}
}

func TestAutoSave_ConflictEmitsStaleSignal(t *testing.T) {
	f := newAutoSaver(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{Title: "mine"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.saver.Track(sess)
	local := sess.Clone()
	local.Title = "local edit"
	f.saver.Update(local)

	elsewhere, _ := f.store.Load(ctx, sess.ID)
	elsewhere.Title = "remote edit"
	if err := f.store.Save(ctx, elsewhere); err != nil {
		t.Fatalf("remote Save: %v", err)
	}

	f.saver.Start(ctx)
	f.clock.Add(30 * time.Second)

	select {
	case sig := <-f.saver.Stale():
		if sig.SessionID != sess.ID || sig.LocalRevision != 1 || sig.StoredRevision != 2 {
			t.Fatalf("signal: %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no stale signal")
	}
	tracked, _ := f.saver.Get(sess.ID)
	if tracked.Title != "remote edit" || tracked.Revision != 2 {
		t.Fatalf("tracked copy should be the stored one: title=%q revision=%d", tracked.Title, tracked.Revision)
	}
	if f.saver.Dirty(sess.ID) {
		t.Fatalf("replaced copy must be clean")
	}
}

func TestAutoSave_FlushReportsStaleState(t *testing.T) {
	f := newAutoSaver(t)
	ctx := context.Background()
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	stale := sess.Clone()
	if err := f.store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stale.Title = "late"
	f.saver.Update(stale)

	err := f.saver.Flush(ctx, sess.ID)
	if !domainagg.IsCode(err, domainagg.CodeStaleState) {
		t.Fatalf("want code=%s got=%v", domainagg.CodeStaleState, err)
	}
}

func TestAutoSave_TickSkipsBusySessions(t *testing.T) {
	f := newAutoSaver(t)
	ctx := context.Background()
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	local := sess.Clone()
	local.Title = "pending"
	f.saver.Update(local)

	release, _, _ := f.locker.TryLock(ctx, locks.TurnKey(sess.ID))
	if err := f.saver.flush(ctx, true, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !f.saver.Dirty(sess.ID) {
		t.Fatalf("busy session must not be saved by the tick")
	}
	release()

	if err := f.saver.flush(ctx, true, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if f.saver.Dirty(sess.ID) {
		t.Fatalf("session should be saved once the turn ended")
	}
}

func TestAutoSave_FinalFlushOnStop(t *testing.T) {
	f := newAutoSaver(t)
	ctx, cancel := context.WithCancel(context.Background())
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	local := sess.Clone()
	local.Title = "saved on shutdown"
	f.saver.Update(local)

	f.saver.Start(ctx)
	cancel()
	select {
	case <-f.saver.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatalf("auto-save loop did not stop")
	}
	stored, _ := f.store.Load(context.Background(), sess.ID)
	if stored.Title != "saved on shutdown" {
		t.Fatalf("final flush: want=%q got=%q", "saved on shutdown", stored.Title)
	}
}

func TestAutoSave_CleanCopiesAreBoundedDirtyOnesKept(t *testing.T) {
	log := testutil.Logger(t)
	store := aggregates.NewSessionStore(aggregates.SessionStoreDeps{
		Base: aggregates.BaseDeps{DB: testutil.DB(t), Log: log},
	})
	saver := NewAutoSaver(log, store, locks.NewRegistry(), clock.NewMock(), nil, AutoSaveOptions{MaxTracked: 2})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		sess, err := store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
		if i == 0 {
			saver.Update(sess)
			continue
		}
		saver.Track(sess)
	}

	if _, ok := saver.Get(ids[1]); ok {
		t.Fatalf("oldest clean copy should have been evicted")
	}
	for _, id := range ids[2:] {
		if _, ok := saver.Get(id); !ok {
			t.Fatalf("recent clean copy %s missing", id)
		}
	}
	if !saver.Dirty(ids[0]) {
		t.Fatalf("dirty copy must survive eviction pressure")
	}
	if err := saver.Flush(ctx, ids[0]); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if saver.Dirty(ids[0]) {
		t.Fatalf("flushed copy should be clean")
	}
}

func TestAutoSave_TakeStaleHandsSignalOutOnce(t *testing.T) {
	f := newAutoSaver(t)
	ctx := context.Background()
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	old := sess.Clone()
	if err := f.store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	old.Title = "late"
	f.saver.Update(old)
	_ = f.saver.Flush(ctx, sess.ID)

	sig, ok := f.saver.TakeStale(sess.ID)
	if !ok || sig.LocalRevision != 1 || sig.StoredRevision != 2 {
		t.Fatalf("TakeStale: ok=%v sig=%+v", ok, sig)
	}
	if _, ok := f.saver.TakeStale(sess.ID); ok {
		t.Fatalf("second TakeStale: want=false got=true")
	}
}
