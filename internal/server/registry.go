package server

import (
	"sort"
	"sync"

	"drover/internal/agent"
)

// Registry tracks live runners so HTTP decisions resolve through the
// runner that parked the call, keeping the run record in step with the
// gateway.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*agent.Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*agent.Runner)}
}

// Add registers a runner under its run ID, replacing any previous entry.
func (r *Registry) Add(runner *agent.Runner) {
	if runner == nil {
		return
	}
	r.mu.Lock()
	r.runners[runner.ID()] = runner
	r.mu.Unlock()
}

// Remove drops the runner for the given run ID.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	delete(r.runners, runID)
	r.mu.Unlock()
}

// Get returns the live runner for a run ID.
func (r *Registry) Get(runID string) (*agent.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[runID]
	return runner, ok
}

// List returns all live runners ordered by run ID.
func (r *Registry) List() []*agent.Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*agent.Runner, 0, len(r.runners))
	for _, runner := range r.runners {
		out = append(out, runner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ByApproval finds the runner stalled on the given approval.
func (r *Registry) ByApproval(approvalID string) (*agent.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, runner := range r.runners {
		if id, ok := runner.PendingApprovalID(); ok && id == approvalID {
			return runner, true
		}
	}
	return nil, false
}
