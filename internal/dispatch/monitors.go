package dispatch

import (
	"sync"

	"github.com/rch-lane/xcode-worker/internal/executor"
)

// handleRegistry tracks the in-flight executor Handle for each job running
// in this process, so cancel can signal it directly. A job started by a
// different process invocation (see runner.go) has no entry here, so a
// cancel cannot signal its executor.
type handleRegistry struct {
	mu sync.Mutex
	m  map[string]executor.Handle
}

func (r *handleRegistry) store(jobID string, h executor.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[string]executor.Handle)
	}
	r.m[jobID] = h
}

func (r *handleRegistry) delete(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, jobID)
}

func (r *handleRegistry) get(jobID string) (executor.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.m[jobID]
	return h, ok
}
