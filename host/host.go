package host

import (
	"context"
	"sync"
)

// Host bundles the pieces of the execution environment shared by the engine and
// its collaborators.
//
// Every mutation of journaled state happens while the host lock is held, so an
// open snapshot only ever records the mutations of the holder.
type Host struct {
	Journal  *Journal
	Registry *Registry
	Clock    Clock

	mu sync.Mutex
}

// New creates a Host with a fresh journal and registry. A nil clock selects the
// system clock.
func New(clock Clock) *Host {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Host{
		Journal:  NewJournal(),
		Registry: NewRegistry(),
		Clock:    clock,
	}
}

type holdKey struct{}

// Enter acquires the host lock unless ctx already holds it. The returned
// context carries the hold and must be passed to every call made before
// release, otherwise a nested call on the same goroutine deadlocks.
func (h *Host) Enter(ctx context.Context) (context.Context, func()) {
	if h.Holds(ctx) {
		return ctx, func() {}
	}
	h.mu.Lock()
	return context.WithValue(ctx, holdKey{}, h), h.mu.Unlock
}

// Holds reports whether ctx carries the lock of h.
func (h *Host) Holds(ctx context.Context) bool {
	held, _ := ctx.Value(holdKey{}).(*Host)
	return held == h
}
