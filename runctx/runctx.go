// Package runctx implements the ambient propagation described in spec.md
// §4.2 and the Design Notes' "ambient context" guidance: a per-task
// inheritable slot (Go's context.Context, which is naturally inheritable
// across goroutines spawned from the same call) plus an auxiliary
// run_id -> *core.RunContext registry so that actors who only know a run id
// (a cancellation issuer, for example) can reach the scratch storage.
//
// The registry is a sync.RWMutex-guarded map, never a lock-free global dict,
// per Design Notes §9.
package runctx

import (
	"context"
	"sync"

	"github.com/advantch/agentrun/core"
)

type runKey struct{}
type tenantKey struct{}

// With returns a child context carrying rc as the ambient RunContext for
// the duration of the call tree rooted at ctx. Concurrent sub-tasks spawned
// from this context (goroutines started with it) inherit rc; distinct
// ctx.With calls never see each other's RunContext, satisfying "distinct
// per logical execution".
func With(ctx context.Context, rc *core.RunContext) context.Context {
	return context.WithValue(ctx, runKey{}, rc)
}

// From retrieves the ambient RunContext, or nil if none is set.
func From(ctx context.Context) *core.RunContext {
	rc, _ := ctx.Value(runKey{}).(*core.RunContext)
	return rc
}

// WithTenant attaches a tenant id in its own slot, independent of
// RunContext, because runs started from background tasks do not inherit
// the calling scope's tenant (spec.md §4.2).
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// Tenant retrieves the ambient tenant id, or "" if none is set.
func Tenant(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}

// Registry maps run id to RunContext so that subscribers who only know a
// run id (a cancellation issuer, an admin endpoint) can read or write the
// scratch storage without having the ambient context threaded to them.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*core.RunContext
}

// NewRegistry constructs an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*core.RunContext)}
}

// Put registers rc under its own RunID. Overwrites any prior registration
// for the same id (idempotent re-registration is harmless: RunContext is a
// value the orchestrator owns for the run's lifetime).
func (r *Registry) Put(rc *core.RunContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[rc.RunID] = rc
}

// Get looks up the RunContext for runID. The boolean reports whether it was
// found; a released run (see Release) is not found.
func (r *Registry) Get(runID string) (*core.RunContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.runs[runID]
	return rc, ok
}

// Release removes the RunContext for runID, clearing it from the ambient
// registry on exit of the run's scope.
func (r *Registry) Release(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// RequestStop marks the cooperative cancellation flag for runID, if the run
// is currently registered. Returns false when the run is unknown (already
// terminal, or never started).
func (r *Registry) RequestStop(runID string) bool {
	rc, ok := r.Get(runID)
	if !ok {
		return false
	}
	rc.Scratch.SetFlag(core.StopKey(runID), true)
	return true
}

// StopRequested reports whether cancellation has been requested for rc's
// run. The Run Orchestrator polls this at the two observation points named
// in spec.md §4.1 and §5: before dispatching a new model request, and
// before dispatching a new tool call.
func StopRequested(rc *core.RunContext) bool {
	return rc.Scratch.Flag(core.StopKey(rc.RunID))
}
