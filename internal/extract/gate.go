package extract

import "sync"

// gate serializes per-frame analysis into capture order. A worker that
// finished decoding frame n blocks in wait until every lower-numbered
// frame has passed through done. This replaces locking on the flow
// tables: analysis is single-threaded by construction.
type gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current int
	aborted bool
}

func newGate(first int) *gate {
	g := &gate{current: first}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// wait blocks until it is frame n's turn. It returns false when the gate
// was aborted, in which case the caller must skip analysis but still call
// done to release successors.
func (g *gate) wait(n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.current != n && !g.aborted {
		g.cond.Wait()
	}
	return !g.aborted
}

// done passes the turn to the next frame.
func (g *gate) done() {
	g.mu.Lock()
	g.current++
	g.mu.Unlock()
	g.cond.Broadcast()
}

// abort releases every waiter; used when a decode failure ends the
// pipeline while higher-numbered frames are still queued.
func (g *gate) abort() {
	g.mu.Lock()
	g.aborted = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
