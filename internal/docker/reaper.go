package docker

import (
	"context"
	"sync"
)

// Reaper tracks, per in-flight job, the containers that existed before the
// job launched, and after the job force-removes whatever appeared on its
// watch. A container present in the job's own pre-snapshot is never removed;
// neither is one that predates another still-running job. Attribution
// between jobs whose windows overlap is best-effort, which is why the
// interrupt path has a separate image-based cleanup.
type Reaper struct {
	mu       sync.Mutex
	inflight map[string][]string
}

func NewReaper() *Reaper {
	return &Reaper{inflight: make(map[string][]string)}
}

// Begin snapshots the active containers ahead of a job launch. If the
// snapshot fails the job is not registered and Reap becomes a no-op for it:
// reaping without a baseline could remove pre-existing containers.
func (r *Reaper) Begin(ctx context.Context, jobID string) error {
	ids, err := ActiveContainers(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.inflight[jobID] = ids
	r.mu.Unlock()
	return nil
}

// Reap diffs the current containers against the job's pre-snapshot and
// removes the leftovers. Returns the ids it removed (for logging). Unknown
// job ids are a no-op.
func (r *Reaper) Reap(ctx context.Context, jobID string) ([]string, error) {
	post, err := ActiveContainers(ctx)
	if err != nil {
		r.forget(jobID)
		return nil, err
	}

	r.mu.Lock()
	pre, tracked := r.inflight[jobID]
	delete(r.inflight, jobID)
	protected := make(map[string]bool)
	for _, id := range pre {
		protected[id] = true
	}
	for _, other := range r.inflight {
		for _, id := range other {
			protected[id] = true
		}
	}
	r.mu.Unlock()

	if !tracked {
		return nil, nil
	}

	var leaked []string
	for _, id := range post {
		if !protected[id] {
			leaked = append(leaked, id)
		}
	}
	if len(leaked) == 0 {
		return nil, nil
	}
	if err := RemoveContainers(ctx, leaked); err != nil {
		return leaked, err
	}
	return leaked, nil
}

func (r *Reaper) forget(jobID string) {
	r.mu.Lock()
	delete(r.inflight, jobID)
	r.mu.Unlock()
}
