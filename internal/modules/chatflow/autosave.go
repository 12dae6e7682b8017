package chatflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	domainagg "github.com/yungbote/coursebuilder-backend/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder-backend/internal/domain/conversation"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

const (
	defaultAutoSaveInterval = 30 * time.Second
	defaultStaleBuffer      = 64
	defaultMaxTracked       = 1024
	finalFlushTimeout       = 10 * time.Second
)

// StaleSignal tells the client its copy of a session was replaced by the stored one.
type StaleSignal struct {
	SessionID      string `json:"session_id"`
	LocalRevision  int64  `json:"local_revision"`
	StoredRevision int64  `json:"stored_revision"`
}

type AutoSaveOptions struct {
	Interval    time.Duration
	StaleBuffer int
	// MaxTracked bounds the clean copies kept in memory; 0 uses 1024.
	MaxTracked int
}

// AutoSaver keeps in-memory copies of live sessions and periodically writes the
// dirty ones through the store. Dirty copies stay until saved; clean copies are an
// LRU and fall out once enough other sessions were touched.
type AutoSaver struct {
	log      *logger.Logger
	store    domainagg.SessionStore
	locker   locks.Locker
	clock    clock.Clock
	metrics  *observability.Metrics
	interval time.Duration

	mu      sync.Mutex
	dirty   map[string]*trackedSession
	clean   *lru.Cache[string, *trackedSession]
	pending *lru.Cache[string, StaleSignal]
	stale   chan StaleSignal
	stopped chan struct{}
}

type trackedSession struct {
	sess    *conversation.Session
	version uint64
}

func NewAutoSaver(log *logger.Logger, store domainagg.SessionStore, locker locks.Locker, clk clock.Clock, metrics *observability.Metrics, opts AutoSaveOptions) *AutoSaver {
	if log == nil {
		log = logger.NewNop()
	}
	if locker == nil {
		locker = locks.NewRegistry()
	}
	if clk == nil {
		clk = clock.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultAutoSaveInterval
	}
	if opts.StaleBuffer <= 0 {
		opts.StaleBuffer = defaultStaleBuffer
	}
	if opts.MaxTracked <= 0 {
		opts.MaxTracked = defaultMaxTracked
	}
	// lru.New only fails for a non-positive size.
	clean, _ := lru.New[string, *trackedSession](opts.MaxTracked)
	pending, _ := lru.New[string, StaleSignal](opts.MaxTracked)
	return &AutoSaver{
		log:      log.With("component", "AutoSaveCoordinator"),
		store:    store,
		locker:   locker,
		clock:    clk,
		metrics:  metrics,
		interval: opts.Interval,
		dirty:    map[string]*trackedSession{},
		clean:    clean,
		pending:  pending,
		stale:    make(chan StaleSignal, opts.StaleBuffer),
		stopped:  make(chan struct{}),
	}
}

// Track records sess as the clean, persisted copy.
func (a *AutoSaver) Track(sess *conversation.Session) {
	if sess == nil || sess.ID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.take(sess.ID)
	t.sess = sess.Clone()
	t.version++
	a.clean.Add(sess.ID, t)
}

func (a *AutoSaver) Untrack(id string) {
	a.mu.Lock()
	delete(a.dirty, id)
	a.clean.Remove(id)
	a.pending.Remove(id)
	a.mu.Unlock()
}

// Update replaces the tracked copy with sess and marks it dirty.
func (a *AutoSaver) Update(sess *conversation.Session) {
	if sess == nil || sess.ID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.take(sess.ID)
	t.sess = sess.Clone()
	t.version++
	a.dirty[sess.ID] = t
}

// take detaches the tracked entry of id, or returns a fresh one. Callers hold mu.
func (a *AutoSaver) take(id string) *trackedSession {
	if t, ok := a.dirty[id]; ok {
		delete(a.dirty, id)
		return t
	}
	if t, ok := a.clean.Peek(id); ok {
		a.clean.Remove(id)
		return t
	}
	return &trackedSession{}
}

// lookup returns the tracked entry of id. Callers hold mu.
func (a *AutoSaver) lookup(id string) *trackedSession {
	if t, ok := a.dirty[id]; ok {
		return t
	}
	if t, ok := a.clean.Get(id); ok {
		return t
	}
	return nil
}

// Get returns a copy of the tracked session.
func (a *AutoSaver) Get(id string) (*conversation.Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.lookup(id)
	if t == nil {
		return nil, false
	}
	return t.sess.Clone(), true
}

func (a *AutoSaver) Dirty(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.dirty[id]
	return ok
}

func (a *AutoSaver) Stale() <-chan StaleSignal { return a.stale }

// TakeStale returns and forgets the latest stale signal of id not yet handed to its
// client.
func (a *AutoSaver) TakeStale(id string) (StaleSignal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sig, ok := a.pending.Peek(id)
	if ok {
		a.pending.Remove(id)
	}
	return sig, ok
}

// Stopped is closed once the loop has exited and the final flush ran.
func (a *AutoSaver) Stopped() <-chan struct{} { return a.stopped }

func (a *AutoSaver) Start(ctx context.Context) {
	a.log.Info("Starting auto-save loop", "interval", a.interval)
	ticker := a.clock.Ticker(a.interval)
	go func() {
		defer close(a.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
				if err := a.flush(flushCtx, false, nil); err != nil {
					a.log.Warn("final auto-save flush incomplete", "error", err)
				}
				cancel()
				a.log.Info("Auto-save loop stopped")
				return
			case <-ticker.C:
				if err := a.flush(ctx, true, nil); err != nil {
					a.log.Debug("auto-save tick had failures", "error", err)
				}
			}
		}
	}()
}

// Flush saves the given dirty sessions now, or every dirty session when ids is empty.
// Unlike the periodic tick it does not skip sessions with a turn in flight.
func (a *AutoSaver) Flush(ctx context.Context, ids ...string) error {
	return a.flush(ctx, false, ids)
}

type pendingSave struct {
	sess    *conversation.Session
	version uint64
}

func (a *AutoSaver) flush(ctx context.Context, skipBusy bool, ids []string) error {
	var errs []error
	for _, p := range a.dirtySnapshot(ids) {
		if skipBusy {
			busy, err := locks.AnyHeld(ctx, a.locker, locks.SessionKeys(p.sess.ID)...)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if busy {
				a.metrics.IncAutoSave("skipped_busy")
				continue
			}
		}
		if err := a.save(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *AutoSaver) dirtySnapshot(ids []string) []pendingSave {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []pendingSave
	add := func(t *trackedSession) {
		if t != nil {
			out = append(out, pendingSave{sess: t.sess.Clone(), version: t.version})
		}
	}
	if len(ids) == 0 {
		for _, t := range a.dirty {
			add(t)
		}
		return out
	}
	for _, id := range ids {
		add(a.dirty[id])
	}
	return out
}

func (a *AutoSaver) save(ctx context.Context, p pendingSave) error {
	const op = "AutoSave.Flush"
	sess := p.sess
	local := sess.Revision
	err := a.store.Save(ctx, sess)
	switch {
	case err == nil:
		a.mu.Lock()
		if t := a.dirty[sess.ID]; t != nil {
			if t.version == p.version {
				t.sess = sess
				delete(a.dirty, sess.ID)
				a.clean.Add(sess.ID, t)
			} else {
				// Updated again while saving; the newer copy now sits on the new revision.
				t.sess.Revision = sess.Revision
				t.sess.UpdatedAt = sess.UpdatedAt
				t.sess.ExpiresAt = sess.ExpiresAt
			}
		}
		a.mu.Unlock()
		a.metrics.IncAutoSave("saved")
		return nil

	case domainagg.IsCode(err, domainagg.CodeConflict):
		stored, lerr := a.store.Load(ctx, sess.ID)
		if lerr != nil {
			a.metrics.IncAutoSave("error")
			return lerr
		}
		a.mu.Lock()
		if _, ok := a.dirty[sess.ID]; ok {
			t := a.take(sess.ID)
			t.sess = stored.Clone()
			t.version++
			a.clean.Add(sess.ID, t)
		}
		sig := StaleSignal{SessionID: sess.ID, LocalRevision: local, StoredRevision: stored.Revision}
		a.pending.Add(sess.ID, sig)
		a.mu.Unlock()
		select {
		case a.stale <- sig:
		default:
			a.log.Warn("stale signal dropped; channel full", "session_id", sess.ID)
		}
		a.metrics.IncAutoSave("stale")
		a.log.Info("tracked session was stale; replaced with stored copy",
			"session_id", sess.ID,
			"local_revision", local,
			"stored_revision", stored.Revision,
		)
		return domainagg.NewError(domainagg.CodeStaleState, op,
			fmt.Sprintf("session changed elsewhere (local revision %d, stored %d)", local, stored.Revision), err)

	case domainagg.IsCode(err, domainagg.CodeNotFound):
		a.Untrack(sess.ID)
		a.metrics.IncAutoSave("gone")
		return err
	}
	a.metrics.IncAutoSave("error")
	a.log.Warn("auto-save failed", "session_id", sess.ID, "error", err)
	return err
}
