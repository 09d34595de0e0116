package sched

import (
	"log/slog"
	"sort"
	"time"

	"github.com/oaf-tools/scraperutils/internal/types"
)

// Registry indexes live operation workers by authority and by task id.
// Both indices always point at the same workers; deregistration removes
// both entries together. Scheduler thread only.
type Registry struct {
	byAuthority map[types.Authority]*Operation
	byTask      map[uint64]*Operation
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byAuthority: make(map[types.Authority]*Operation),
		byTask:      make(map[uint64]*Operation),
		logger:      logger.With("component", "registry"),
	}
}

// Register indexes a worker. Fails if its authority is already taken.
func (r *Registry) Register(w *Operation) error {
	if _, ok := r.byAuthority[w.authority]; ok {
		return types.ErrAuthorityRegistered
	}
	r.byAuthority[w.authority] = w
	r.byTask[w.id] = w
	return nil
}

// Deregister removes the worker for the authority from both indices.
// Idempotent.
func (r *Registry) Deregister(authority types.Authority) {
	w, ok := r.byAuthority[authority]
	if !ok {
		return
	}
	delete(r.byAuthority, authority)
	delete(r.byTask, w.id)
}

// DeregisterTask removes the worker with the task id from both indices.
// Idempotent.
func (r *Registry) DeregisterTask(id uint64) {
	w, ok := r.byTask[id]
	if !ok {
		return
	}
	delete(r.byTask, id)
	delete(r.byAuthority, w.authority)
}

// Find returns the worker for the authority, or nil.
func (r *Registry) Find(authority types.Authority) *Operation {
	return r.byAuthority[authority]
}

// FindTask returns the worker with the task id, or nil.
func (r *Registry) FindTask(id uint64) *Operation {
	return r.byTask[id]
}

// Resumable returns the workers with no request in flight, ordered by
// resume_at ascending with the worker's seq breaking ties (the scheduler
// assigns seq in registration order, or randomly when ordering is
// randomised). The caller decides whether the head is due yet.
func (r *Registry) Resumable() []*Operation {
	out := make([]*Operation, 0, len(r.byAuthority))
	for _, w := range r.byAuthority {
		if !w.waitingForResponse {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].resumeAt.Equal(out[j].resumeAt) {
			return out[i].resumeAt.Before(out[j].resumeAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// CanResume returns the workers eligible to resume at now, in resume
// order.
func (r *Registry) CanResume(now time.Time) []*Operation {
	all := r.Resumable()
	out := all[:0]
	for _, w := range all {
		if w.readyAt(now) {
			out = append(out, w)
		}
	}
	return out
}

// Size returns the number of live workers.
func (r *Registry) Size() int { return len(r.byAuthority) }

// Empty reports whether no workers remain.
func (r *Registry) Empty() bool { return len(r.byAuthority) == 0 }

// Authorities returns the registered authorities in no particular order.
func (r *Registry) Authorities() []types.Authority {
	out := make([]types.Authority, 0, len(r.byAuthority))
	for a := range r.byAuthority {
		out = append(out, a)
	}
	return out
}

// Shutdown closes every worker (unwinding its task) and clears both
// indices.
func (r *Registry) Shutdown() {
	for _, w := range r.byAuthority {
		w.close()
	}
	r.byAuthority = make(map[types.Authority]*Operation)
	r.byTask = make(map[uint64]*Operation)
}
