package core

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task record.
type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusPaused  TaskStatus = "paused"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusStopped TaskStatus = "stopped"
)

// Terminal reports whether the status is final for the current run.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed || s == TaskStatusStopped
}

// TaskRecord is the mutable status snapshot for one job. Access is
// serialized by the owning registry; the record itself does no locking.
type TaskRecord struct {
	Key        JobKey
	Status     TaskStatus
	Stage      string
	SceneDone  int
	SceneTotal int
	Error      string
	Report     map[string]int
	StartedAt  *time.Time
	FinishedAt *time.Time

	seenScenes map[int]struct{}
}

// NewTaskRecord creates a queued record for the key.
func NewTaskRecord(key JobKey) *TaskRecord {
	return &TaskRecord{
		Key:        key,
		Status:     TaskStatusQueued,
		seenScenes: make(map[int]struct{}),
	}
}

// Start moves the record to running and resets per-run state. Resubmitting a
// terminal key reuses the record; counters, error and report start fresh.
func (r *TaskRecord) Start() {
	r.Status = TaskStatusRunning
	r.Stage = ""
	r.SceneDone = 0
	r.Error = ""
	r.Report = nil
	r.FinishedAt = nil
	r.seenScenes = make(map[int]struct{})
	now := time.Now()
	r.StartedAt = &now
}

// Finish moves the record to success or failed and stores the report summary.
func (r *TaskRecord) Finish(ok bool, report map[string]int) error {
	if r.Status != TaskStatusRunning && r.Status != TaskStatusPaused {
		return fmt.Errorf("cannot finish task in %s state", r.Status)
	}
	if ok {
		r.Status = TaskStatusSuccess
	} else {
		r.Status = TaskStatusFailed
	}
	r.Report = report
	now := time.Now()
	r.FinishedAt = &now
	return nil
}

// MarkStopped records a cooperative cancellation. Legal from queued, running
// and paused only; terminal records are left alone.
func (r *TaskRecord) MarkStopped() error {
	switch r.Status {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusPaused:
		r.Status = TaskStatusStopped
		now := time.Now()
		r.FinishedAt = &now
		return nil
	default:
		return fmt.Errorf("cannot stop task in %s state", r.Status)
	}
}

// MarkPaused records the running -> paused side transition.
func (r *TaskRecord) MarkPaused() error {
	if r.Status != TaskStatusRunning {
		return fmt.Errorf("cannot pause task in %s state", r.Status)
	}
	r.Status = TaskStatusPaused
	return nil
}

// MarkResumed reverses MarkPaused.
func (r *TaskRecord) MarkResumed() error {
	if r.Status != TaskStatusPaused {
		return fmt.Errorf("cannot resume task in %s state", r.Status)
	}
	r.Status = TaskStatusRunning
	return nil
}

// RecordSceneDone counts a confirmed scene exactly once per index.
// Returns true when the scene was newly counted.
func (r *TaskRecord) RecordSceneDone(scene int) bool {
	if r.seenScenes == nil {
		r.seenScenes = make(map[int]struct{})
	}
	if _, seen := r.seenScenes[scene]; seen {
		return false
	}
	r.seenScenes[scene] = struct{}{}
	r.SceneDone++
	return true
}

// TaskSnapshot is the immutable, serializable view of a record handed to
// the delivery layer.
type TaskSnapshot struct {
	Key        JobKey         `json:"key"`
	Collection string         `json:"collection"`
	Part       int            `json:"part"`
	Status     TaskStatus     `json:"status"`
	Stage      string         `json:"stage,omitempty"`
	SceneDone  int            `json:"scene_done"`
	SceneTotal int            `json:"scene_total"`
	Error      string         `json:"error,omitempty"`
	Report     map[string]int `json:"report,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Snapshot copies the record into its serializable view.
func (r *TaskRecord) Snapshot() TaskSnapshot {
	snap := TaskSnapshot{
		Key:        r.Key,
		Collection: r.Key.Collection,
		Part:       r.Key.Part,
		Status:     r.Status,
		Stage:      r.Stage,
		SceneDone:  r.SceneDone,
		SceneTotal: r.SceneTotal,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Report != nil {
		snap.Report = make(map[string]int, len(r.Report))
		for k, v := range r.Report {
			snap.Report[k] = v
		}
	}
	return snap
}

// HealthRatio is confirmed-ok scenes over total scenes, for reporting only.
func (s TaskSnapshot) HealthRatio() float64 {
	if s.SceneTotal <= 0 {
		return 0
	}
	return float64(s.SceneDone) / float64(s.SceneTotal)
}
