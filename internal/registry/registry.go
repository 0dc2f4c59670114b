// Package registry owns the map of task records by job key. All access is
// serialized behind one mutex; callers only ever see snapshots. Side effects
// are limited to in-memory state.
package registry

import (
	"sort"
	"sync"

	"scenesmith/internal/core"
)

// Registry is the authoritative in-memory store of task records.
type Registry struct {
	mu      sync.Mutex
	records map[core.JobKey]*core.TaskRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[core.JobKey]*core.TaskRecord)}
}

// ensure returns the record for key, creating it lazily. Caller holds mu.
func (r *Registry) ensure(key core.JobKey) *core.TaskRecord {
	rec, ok := r.records[key]
	if !ok {
		rec = core.NewTaskRecord(key)
		r.records[key] = rec
	}
	return rec
}

// Ensure creates the record when absent and returns its snapshot.
func (r *Registry) Ensure(key core.JobKey) core.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensure(key).Snapshot()
}

// Start creates-or-fetches the record and moves it to running, clearing
// error, report and the scene-seen set.
func (r *Registry) Start(key core.JobKey) core.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.ensure(key)
	rec.Start()
	return rec.Snapshot()
}

// Finish moves the record to success or failed and stores the report summary.
func (r *Registry) Finish(key core.JobKey, ok bool, report map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensure(key).Finish(ok, report)
}

// errUnknownTask is the rejection for control requests on keys no one ever
// submitted. Ensure and Start are the only creators of records; Mark and
// Set methods never fabricate one.
func errUnknownTask(key core.JobKey) error {
	return core.ErrNotFound("TASK_NOT_FOUND", "no such task: "+key.String())
}

// MarkStopped records a cancellation; no-op error for terminal records.
func (r *Registry) MarkStopped(key core.JobKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return errUnknownTask(key)
	}
	return rec.MarkStopped()
}

// MarkPaused records running -> paused.
func (r *Registry) MarkPaused(key core.JobKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return errUnknownTask(key)
	}
	return rec.MarkPaused()
}

// MarkResumed records paused -> running.
func (r *Registry) MarkResumed(key core.JobKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return errUnknownTask(key)
	}
	return rec.MarkResumed()
}

// SetStage stores the last-step label for the key. Unknown keys are
// ignored.
func (r *Registry) SetStage(key core.JobKey, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		rec.Stage = stage
	}
}

// SetError stores the fatal error message for the key. Unknown keys are
// ignored.
func (r *Registry) SetError(key core.JobKey, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		rec.Error = msg
	}
}

// SetSceneTotal stores the planned scene count for the key.
func (r *Registry) SetSceneTotal(key core.JobKey, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(key).SceneTotal = total
}

// RecordSceneDone counts a confirmed scene once per distinct index; retries
// of the same scene never double count. Returns true when newly counted.
func (r *Registry) RecordSceneDone(key core.JobKey, scene int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensure(key).RecordSceneDone(scene)
}

// Status returns the snapshot for key, if known.
func (r *Registry) Status(key core.JobKey) (core.TaskSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return core.TaskSnapshot{}, false
	}
	return rec.Snapshot(), true
}

// statusSortRank orders listings the way operators read them: active work
// first, finished work last.
var statusSortRank = map[core.TaskStatus]int{
	core.TaskStatusRunning: 0,
	core.TaskStatusPaused:  1,
	core.TaskStatusQueued:  2,
	core.TaskStatusStopped: 3,
	core.TaskStatusFailed:  4,
	core.TaskStatusSuccess: 5,
}

// ListFilter narrows List results. Zero value matches everything.
type ListFilter struct {
	Collection string
	Status     core.TaskStatus
}

// List returns snapshots matching the filter, sorted by status priority,
// then collection, then part.
func (r *Registry) List(filter ListFilter) []core.TaskSnapshot {
	r.mu.Lock()
	out := make([]core.TaskSnapshot, 0, len(r.records))
	for _, rec := range r.records {
		if filter.Collection != "" && rec.Key.Collection != filter.Collection {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := statusSortRank[out[i].Status], statusSortRank[out[j].Status]
		if ri != rj {
			return ri < rj
		}
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].Part < out[j].Part
	})
	return out
}

// NonTerminalKeys returns every key whose record is queued, running or
// paused. Used by StopAll to converge desired and actual stoppage.
func (r *Registry) NonTerminalKeys() []core.JobKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []core.JobKey
	for key, rec := range r.records {
		if !rec.Status.Terminal() {
			keys = append(keys, key)
		}
	}
	return keys
}
