package locks

import (
	"context"
	"strings"
	"sync"
)

// Locker hands out non-blocking, per-key mutual exclusion.
type Locker interface {
	// TryLock returns ok=false without waiting when key is already held.
	// release is nil unless ok is true and is safe to call more than once.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
	IsHeld(ctx context.Context, key string) (bool, error)
}

func TurnKey(sessionID string) string { return "turn:" + strings.TrimSpace(sessionID) }

func GenerationKey(sessionID string) string {
	return "generation:" + strings.TrimSpace(sessionID)
}

// SessionKeys lists every lock a session can be busy under.
func SessionKeys(sessionID string) []string {
	return []string{TurnKey(sessionID), GenerationKey(sessionID)}
}

// AnyHeld reports whether any of keys is currently held.
func AnyHeld(ctx context.Context, l Locker, keys ...string) (bool, error) {
	for _, k := range keys {
		held, err := l.IsHeld(ctx, k)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}

// Registry is the in-process Locker.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

func (r *Registry) TryLock(_ context.Context, key string) (func(), bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.held[key]; taken {
		return nil, false, nil
	}
	r.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, key)
			r.mu.Unlock()
		})
	}, true, nil
}

func (r *Registry) IsHeld(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.held[key]
	return taken, nil
}

// Multi acquires the local lock first and then each remote one, releasing in reverse
// when a later locker refuses or fails.
type Multi []Locker

func (m Multi) TryLock(ctx context.Context, key string) (func(), bool, error) {
	releases := make([]func(), 0, len(m))
	undo := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range m {
		if l == nil {
			continue
		}
		release, ok, err := l.TryLock(ctx, key)
		if err != nil || !ok {
			undo()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	var once sync.Once
	return func() { once.Do(undo) }, true, nil
}

func (m Multi) IsHeld(ctx context.Context, key string) (bool, error) {
	for _, l := range m {
		if l == nil {
			continue
		}
		held, err := l.IsHeld(ctx, key)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}
