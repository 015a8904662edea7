// Package engine drives a single TestSpec through to a terminal RunResult:
// it resolves endpoints and auth once, dispatches total_requests requests
// under bounded concurrency and an optional rate limiter, records each
// outcome into a metrics collector, and periodically publishes a live
// snapshot into a Registry for concurrent readers. It is adapted from the
// teacher's Executor: same atomic-counter/worker-pool shape, restructured
// from the teacher's continuous run-until-stopped loop into a run-exactly-N
// per-run lifecycle.
package engine

import (
	"context"
	"sync"

	"github.com/example/loadtest/internal/specmodel"
)

// activeRun is the registry's per-run cell: a lock-guarded pointer to the
// latest published snapshot plus the cancellation handle for that run.
type activeRun struct {
	mu     sync.Mutex
	result *specmodel.RunResult
	cancel context.CancelFunc
}

func (ar *activeRun) publish(result *specmodel.RunResult) {
	ar.mu.Lock()
	ar.result = result
	ar.mu.Unlock()
}

// Registry is the active-run table: a keyed, lock-guarded store of
// in-flight RunResult snapshots and their cancellation handles. Readers see
// the most recently published, fully-formed snapshot, never a torn one.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*activeRun
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*activeRun)}
}

func (r *Registry) register(id string, initial *specmodel.RunResult, cancel context.CancelFunc) *activeRun {
	ar := &activeRun{result: initial, cancel: cancel}
	r.mu.Lock()
	r.runs[id] = ar
	r.mu.Unlock()
	return ar
}

func (r *Registry) unregister(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

// Get returns the latest published snapshot for id, if the run is active.
func (r *Registry) Get(id string) (*specmodel.RunResult, bool) {
	r.mu.RLock()
	ar, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.result.Clone(), true
}

// Cancel signals cancellation for id if it is active, returning whether a
// handle was found. Safe to call more than once; later calls are no-ops.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	ar, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	ar.cancel()
	return true
}
