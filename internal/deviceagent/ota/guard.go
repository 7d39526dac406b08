package ota

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SessionHandle is the right to run one update session.
type SessionHandle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func (h *SessionHandle) ID() string { return h.id }

// Context is cancelled when the handle is invalidated or ended.
func (h *SessionHandle) Context() context.Context { return h.ctx }

// Guard admits at most one update session at a time.
type Guard struct {
	mu sync.Mutex
	// live is the handle still allowed to run; held is the handle whose
	// worker has not called End yet. Invalidate clears live only.
	live *SessionHandle
	held *SessionHandle
}

func NewGuard() *Guard {
	return &Guard{}
}

// TryBegin returns a new handle derived from parent, or false while a
// previous session has not ended.
func (g *Guard) TryBegin(parent context.Context) (*SessionHandle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held != nil {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	h := &SessionHandle{id: uuid.NewString(), ctx: ctx, cancel: cancel}
	g.live, g.held = h, h
	return h, true
}

// End releases the slot held by h. Ending a stale handle is a no-op.
func (g *Guard) End(h *SessionHandle) {
	if h == nil {
		return
	}
	h.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live == h {
		g.live = nil
	}
	if g.held == h {
		g.held = nil
	}
}

// Invalidate cancels the live session. The slot stays taken until its
// worker observes the cancellation and calls End.
func (g *Guard) Invalidate() bool {
	g.mu.Lock()
	h := g.live
	g.live = nil
	g.mu.Unlock()

	if h == nil {
		return false
	}
	h.cancel()
	return true
}

// Busy reports whether a session holds the slot.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held != nil
}
