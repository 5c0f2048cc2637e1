package gateway

import (
	"sync"
)

// Guard is the single-flight lock around reconciliation passes. Reload
// triggers use TryBegin and drop the request when a pass is already running;
// the stop path uses Begin so teardown waits out an in-flight pass instead
// of racing it.
type Guard struct {
	mu sync.Mutex
}

// TryBegin attempts to claim the guard without blocking.
func (g *Guard) TryBegin() bool {
	return g.mu.TryLock()
}

// Begin claims the guard, waiting for any in-flight pass to finish.
func (g *Guard) Begin() {
	g.mu.Lock()
}

// End releases the guard. It must be called exactly once per successful
// TryBegin or Begin, whether the pass succeeded or aborted.
func (g *Guard) End() {
	g.mu.Unlock()
}
