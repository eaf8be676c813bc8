package batch

import (
	"context"
	"sync"
)

const (
	holdUser   = "user"
	holdMemory = "memory"
)

// gate blocks dispatch while any hold is in place. Holds are named so a user
// pause and memory backpressure can overlap without releasing each other.
type gate struct {
	mu    sync.Mutex
	holds map[string]struct{}
	open  chan struct{} // closed while the gate is open
}

func newGate() *gate {
	g := &gate{
		holds: make(map[string]struct{}),
		open:  make(chan struct{}),
	}
	close(g.open)
	return g
}

// hold closes the gate for reason. It reports false if reason already held it.
func (g *gate) hold(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.holds[reason]; ok {
		return false
	}
	if len(g.holds) == 0 {
		g.open = make(chan struct{})
	}
	g.holds[reason] = struct{}{}
	return true
}

// release drops the hold for reason. It reports false if reason held nothing.
func (g *gate) release(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.holds[reason]; !ok {
		return false
	}
	delete(g.holds, reason)
	if len(g.holds) == 0 {
		close(g.open)
	}
	return true
}

func (g *gate) held(reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.holds[reason]
	return ok
}

func (g *gate) isOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holds) == 0
}

// wait blocks until the gate is open or ctx is done
func (g *gate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		ch := g.open
		g.mu.Unlock()

		select {
		case <-ch:
			if g.isOpen() {
				return nil
			}
			// closed again between the wake-up and the check
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
