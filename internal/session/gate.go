package session

import (
	"sync"

	"github.com/milesc-bot/gym-scraper/internal/metrics"
)

// gate is an awaitable latch that can be re-closed. It is modeled as a
// replaceable "open" channel under a mutex: closing swaps in a fresh pending
// channel atomically, opening closes the current one so every waiter wakes
// together. At most one re-authentication task may be in flight per epoch;
// that invariant is enforced by loginInProgress, not by the gate itself.
type gate struct {
	mu   sync.Mutex
	open chan struct{}
	err  error
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch) // initially open
	return &gate{open: ch}
}

// Wait returns the channel callers should select on, alongside the fatal
// error (if any) recorded the last time the gate resolved. Callers must
// re-check Err after the channel closes: a gate that failed permanently
// still closes its channel so parked callers wake, but they all observe the
// same non-nil error rather than proceeding as if login succeeded.
func (g *gate) Wait() (<-chan struct{}, func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := g.open
	return ch, func() error {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.err
	}
}

// Close marks the gate pending if it is currently open, clearing any prior
// fatal error for the new epoch. Calling Close while already pending is a
// no-op; the existing pending channel is reused so callers already waiting
// don't need to re-register.
func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
		g.err = nil
		metrics.ObserveGateTransition("close")
	default:
		// already pending.
	}
}

// Open resolves the current pending channel, releasing every waiter with no
// error.
func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		// already open.
	default:
		g.err = nil
		close(g.open)
		metrics.ObserveGateTransition("open")
	}
}

// Fail resolves the current pending channel but records err so every
// released waiter observes permanent failure instead of success.
func (g *gate) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		// already open; a fail after the fact has nothing to attach to.
	default:
		g.err = err
		close(g.open)
		metrics.ObserveGateTransition("fail")
	}
}
