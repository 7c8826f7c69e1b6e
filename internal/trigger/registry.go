package trigger

import "sync"

// Registry tracks in-flight run identifiers per workflow. It is the
// sole admission-control mechanism preventing overlapping runs, and the
// only shared mutable state in the engine. All operations hold one
// mutex; callers must never hold it across an execution call.
type Registry struct {
	mu         sync.Mutex
	byWorkflow map[string]string // workflowID -> runID
	byRun      map[string]string // runID -> workflowID
}

func NewRegistry() *Registry {
	return &Registry{
		byWorkflow: map[string]string{},
		byRun:      map[string]string{},
	}
}

// TryRegister atomically claims the right to run workflowID. It returns
// false when any run is already active for that workflow; the caller
// must then skip this firing.
func (r *Registry) TryRegister(workflowID, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byWorkflow[workflowID]; busy {
		return false
	}
	if _, dup := r.byRun[runID]; dup {
		return false
	}
	r.byWorkflow[workflowID] = runID
	r.byRun[runID] = workflowID
	return true
}

// Deregister removes the run record. Idempotent: safe on double cleanup
// during shutdown.
func (r *Registry) Deregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wfID, ok := r.byRun[runID]
	if !ok {
		return
	}
	delete(r.byRun, runID)
	if r.byWorkflow[wfID] == runID {
		delete(r.byWorkflow, wfID)
	}
}

// ActiveRuns lists the currently registered run identifiers without
// removing them; removal happens via each task's own Deregister as it
// unwinds. Used during shutdown to know what to cancel.
func (r *Registry) ActiveRuns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byRun))
	for runID := range r.byRun {
		out = append(out, runID)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byRun)
}
