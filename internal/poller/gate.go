package poller

import (
	"context"
	"sync"

	ncerr "unkprox/internal/errors"
)

// Gate is a binary pause flag shared by one poller and its pausers.
// The poller brackets every probe with Enter/Leave; Pause waits for any
// in-flight probe to leave and then holds the gate shut until Resume.
//
// Pause is not reentrant.  A second Pause without an intervening Resume
// blocks until someone else resumes or its context ends.
type Gate struct {
	mu      sync.Mutex
	paused  bool
	busy    bool          // a probe is between Enter and Leave
	changed chan struct{} // closed and replaced on every state change
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{changed: make(chan struct{})}
}

// Paused reports whether the gate is currently shut.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Enter blocks while the gate is paused, then marks a probe in flight.
func (g *Gate) Enter(ctx context.Context) error {
	return g.await(ctx, func() bool { return !g.paused }, func() { g.busy = true })
}

// Leave marks the in-flight probe finished.
func (g *Gate) Leave() {
	g.mu.Lock()
	g.busy = false
	g.broadcast()
	g.mu.Unlock()
}

// Pause shuts the gate once no probe is in flight.  When Pause returns
// nil the poller will not probe again until Resume.
func (g *Gate) Pause(ctx context.Context) error {
	return g.await(ctx, func() bool { return !g.paused && !g.busy }, func() { g.paused = true })
}

// Resume reopens the gate.  It fails with ErrNotPaused if the gate is
// already open.
func (g *Gate) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return ncerr.ErrNotPaused
	}
	g.paused = false
	g.broadcast()
	return nil
}

// await waits until ready holds, then runs take, both under g.mu.
func (g *Gate) await(ctx context.Context, ready func() bool, take func()) error {
	for {
		g.mu.Lock()
		if ready() {
			take()
			g.broadcast()
			g.mu.Unlock()
			return nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// broadcast wakes every waiter.  g.mu must be held.
func (g *Gate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}
