package server

import (
	"context"
	"sync"

	"github.com/iosans/loom/internal/flow/engine"
)

// runEntry tracks one run managed by this server: the live execution, its
// event broadcaster, and the cancel that aborts it. Finished runs stay in
// the registry so clients can fetch snapshots and replayed events after the
// fact.
type runEntry struct {
	ID     string
	Exec   *engine.Execution
	Bcast  *Broadcaster
	cancel context.CancelFunc
}

// Abort signals the run's context. Safe to call more than once.
func (e *runEntry) Abort() {
	if e.cancel != nil {
		e.cancel()
	}
}

// runRegistry tracks every run started by this server instance.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*runEntry)}
}

// Add registers a run. Run ids are ULIDs, so collisions do not happen; a
// duplicate silently replaces, which only matters if a caller misuses Add.
func (r *runRegistry) Add(e *runEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[e.ID] = e
}

func (r *runRegistry) Get(id string) (*runEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[id]
	return e, ok
}

func (r *runRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// AbortAll cancels every run, live or not. Used at shutdown.
func (r *runRegistry) AbortAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.runs {
		e.Abort()
	}
}
