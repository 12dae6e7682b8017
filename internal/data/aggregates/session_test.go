package aggregates_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/yungbote/coursebuilder-backend/internal/data/aggregates"
	aggtestutil "github.com/yungbote/coursebuilder-backend/internal/data/aggregates/testutil"
	"github.com/yungbote/coursebuilder-backend/internal/data/repos/testutil"
	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

type storeFixture struct {
	store domainagg.SessionStore
	clock *clock.Mock
	hooks *aggtestutil.HooksRecorder
}

// setClock moves m to t; the mock only advances relative to its current time.
func setClock(m *clock.Mock, t time.Time) {
	m.Add(t.Sub(m.Now()))
}

func newStore(t *testing.T) storeFixture {
	t.Helper()
	db := testutil.DB(t)
	mock := clock.NewMock()
	setClock(mock, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hooks := &aggtestutil.HooksRecorder{}
	store := aggregates.NewSessionStore(aggregates.SessionStoreDeps{
		Base: aggregates.BaseDeps{
			DB:    db,
			Log:   testutil.Logger(t),
			Hooks: hooks,
			Clock: mock,
			Retry: retry.Policy{MaxAttempts: 3, NewBackOff: retry.Constant(0)},
		},
		InactivityTTL: 30 * 24 * time.Hour,
	})
	return storeFixture{store: store, clock: mock, hooks: hooks}
}

func TestSessionStore_RoundTripPreservesMessages(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()

	sess, err := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{Title: "Go basics"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Revision != 1 || sess.Stage != conversation.StageInitial {
		t.Fatalf("new session: revision=%d stage=%s", sess.Revision, sess.Stage)
	}

	at := f.clock.Now()
	sess.Append(conversation.RoleUser, "build a course on Go", at)
	sess.Append(conversation.RoleAssistant, "Sure, what level?\nwith \"quotes\" and unicode: café", at.Add(time.Second))
	sess.Stage = conversation.StageGatheringRequirements
	sess.Draft = &conversation.CourseStructureDraft{
		Title: "Go",
		Sections: []conversation.DraftSection{{
			Title:   "Intro",
			Lessons: []conversation.DraftLesson{{Title: "Hello", Content: "fmt.Println", OrderIndex: 0}},
		}},
	}
	if err := f.store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if sess.Revision != 2 {
		t.Fatalf("revision after save: want=2 got=%d", sess.Revision)
	}

	loaded, err := f.store.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != len(sess.Messages) {
		t.Fatalf("messages: want=%d got=%d", len(sess.Messages), len(loaded.Messages))
	}
	for i := range sess.Messages {
		a, b := sess.Messages[i], loaded.Messages[i]
		if a.Role != b.Role || a.Content != b.Content || !a.Timestamp.Equal(b.Timestamp) {
			t.Fatalf("message %d: want=%+v got=%+v", i, a, b)
		}
	}
	if loaded.Revision != 2 || loaded.Stage != conversation.StageGatheringRequirements {
		t.Fatalf("loaded: revision=%d stage=%s", loaded.Revision, loaded.Stage)
	}
	if loaded.Draft == nil || loaded.Draft.Sections[0].Lessons[0].Content != "fmt.Println" {
		t.Fatalf("draft not round-tripped: %+v", loaded.Draft)
	}
	if want := f.clock.Now().Add(30 * 24 * time.Hour); !loaded.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at: want=%s got=%s", want, loaded.ExpiresAt)
	}
}

func TestSessionStore_ConcurrentSavesFromSameRevision(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	sess, err := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tabA, _ := f.store.Load(ctx, sess.ID)
	tabB, _ := f.store.Load(ctx, sess.ID)
	tabA.Append(conversation.RoleUser, "from tab A", f.clock.Now())
	tabB.Append(conversation.RoleUser, "from tab B", f.clock.Now())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*conversation.Session{tabA, tabB} {
		wg.Add(1)
		go func(i int, s *conversation.Session) {
			defer wg.Done()
			errs[i] = f.store.Save(ctx, s)
		}(i, s)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domainagg.IsCode(err, domainagg.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected save error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("want exactly one success and one conflict, got ok=%d conflicts=%d", ok, conflicts)
	}
	stored, _ := f.store.Load(ctx, sess.ID)
	if stored.Revision != 2 || len(stored.Messages) != 1 {
		t.Fatalf("stored: revision=%d messages=%d", stored.Revision, len(stored.Messages))
	}
	if len(f.hooks.Conflicts) != 1 {
		t.Fatalf("conflict hook: want=1 got=%d", len(f.hooks.Conflicts))
	}
}

func TestSessionStore_RejectsRewrittenHistory(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	sess.Append(conversation.RoleUser, "first", f.clock.Now())
	if err := f.store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess.Messages[0].Content = "edited"
	err := f.store.Save(ctx, sess)
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("want validation error for edited history, got %v", err)
	}
	sess.Messages = nil
	if err := f.store.Save(ctx, sess); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("want validation error for truncated history, got %v", err)
	}
}

func TestSessionStore_LoadMissingIsNotFound(t *testing.T) {
	f := newStore(t)
	_, err := f.store.Load(context.Background(), "does-not-exist")
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("want not_found, got %v", err)
	}
}

func TestSessionStore_DeleteIsIdempotent(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	for i := 0; i < 2; i++ {
		if err := f.store.Delete(ctx, sess.ID); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
	if _, err := f.store.Load(ctx, sess.ID); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("want not_found after delete, got %v", err)
	}
}

func TestSessionStore_ListByOwnerOrdersByUpdatedAt(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		s, err := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{Title: "t"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, s.ID)
		f.clock.Add(time.Minute)
	}
	if _, err := f.store.Create(ctx, "owner-2", domainagg.CreateSessionInput{}); err != nil {
		t.Fatalf("Create other owner: %v", err)
	}
	// Touch the oldest one so it moves to the front.
	oldest, _ := f.store.Load(ctx, ids[0])
	oldest.Append(conversation.RoleUser, "bump", f.clock.Now())
	if err := f.store.Save(ctx, oldest); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := f.store.ListByOwner(ctx, "owner-1", 0, 0)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	want := []string{ids[0], ids[2], ids[1]}
	if len(got) != len(want) {
		t.Fatalf("len: want=%d got=%d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order[%d]: want=%s got=%s", i, want[i], got[i].ID)
		}
	}
	if got[0].MessageCount != 1 {
		t.Fatalf("message_count: want=1 got=%d", got[0].MessageCount)
	}
	page, _ := f.store.ListByOwner(ctx, "owner-1", 1, 1)
	if len(page) != 1 || page[0].ID != ids[2] {
		t.Fatalf("paging: got=%+v", page)
	}
}

func TestSessionStore_ExpiryAndPurgeAreRevisionGuarded(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	sess, _ := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
	f.clock.Add(40 * 24 * time.Hour)

	stale, err := f.store.ListStale(ctx, f.clock.Now().Add(-30*24*time.Hour), domainagg.SweepCursor{}, 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("ListStale: err=%v len=%d", err, len(stale))
	}
	if err := f.store.MarkExpired(ctx, sess.ID, stale[0].Revision+5, f.clock.Now()); !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("MarkExpired with wrong revision: want conflict, got %v", err)
	}
	if err := f.store.MarkExpired(ctx, sess.ID, stale[0].Revision, f.clock.Now()); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	loaded, _ := f.store.Load(ctx, sess.ID)
	if loaded.Status != conversation.StatusExpired || loaded.ExpiredAt == nil || loaded.Revision != 2 {
		t.Fatalf("after expiry: status=%s expired_at=%v revision=%d", loaded.Status, loaded.ExpiredAt, loaded.Revision)
	}

	f.clock.Add(61 * 24 * time.Hour)
	expired, err := f.store.ListExpired(ctx, f.clock.Now().Add(-60*24*time.Hour), domainagg.SweepCursor{}, 10)
	if err != nil || len(expired) != 1 {
		t.Fatalf("ListExpired: err=%v len=%d", err, len(expired))
	}
	if err := f.store.Purge(ctx, sess.ID, expired[0].Revision); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := f.store.Load(ctx, sess.ID); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("want not_found after purge, got %v", err)
	}
}

func TestSessionStore_ListStalePagesByCursor(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := f.store.Create(ctx, "owner-1", domainagg.CreateSessionInput{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
		f.clock.Add(time.Minute)
	}
	f.clock.Add(40 * 24 * time.Hour)
	cutoff := f.clock.Now().Add(-30 * 24 * time.Hour)

	first, err := f.store.ListStale(ctx, cutoff, domainagg.SweepCursor{}, 2)
	if err != nil || len(first) != 2 || first[0].ID != ids[0] || first[1].ID != ids[1] {
		t.Fatalf("first page: err=%v rows=%+v", err, first)
	}
	last := first[len(first)-1]
	rest, err := f.store.ListStale(ctx, cutoff, domainagg.SweepCursor{At: last.UpdatedAt, ID: last.ID}, 2)
	if err != nil || len(rest) != 1 || rest[0].ID != ids[2] {
		t.Fatalf("second page: err=%v rows=%+v", err, rest)
	}
}

func TestSessionStore_TransientFailuresAreRetried(t *testing.T) {
	db := testutil.DB(t)
	runner := &aggtestutil.InjectedTxRunner{
		Inner:     aggregates.NewGormTxRunner(db),
		FailErr:   errors.New("database is locked"),
		FailTimes: 2,
	}
	hooks := &aggtestutil.HooksRecorder{}
	store := aggregates.NewSessionStore(aggregates.SessionStoreDeps{Base: aggregates.BaseDeps{
		DB:     db,
		Runner: runner,
		Hooks:  hooks,
		Retry:  retry.Policy{MaxAttempts: 3, NewBackOff: retry.Constant(0)},
	}})
	sess, err := store.Create(context.Background(), "owner-1", domainagg.CreateSessionInput{})
	if err != nil {
		t.Fatalf("Create after transient failures: %v", err)
	}
	if runner.BeginCalls != 3 || hooks.RetryCount("Session.Create") != 2 {
		t.Fatalf("begin=%d retries=%d", runner.BeginCalls, hooks.RetryCount("Session.Create"))
	}

	runner.FailTimes = 3
	sess.Append(conversation.RoleUser, "hi", time.Now())
	err = store.Save(context.Background(), sess)
	if !domainagg.IsCode(err, domainagg.CodeStorage) {
		t.Fatalf("want storage error after exhausting retries, got %v", err)
	}
	if sess.Revision != 1 {
		t.Fatalf("failed save must not advance revision, got %d", sess.Revision)
	}
}
