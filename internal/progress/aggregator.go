// Package progress centralizes all scene/part counting in one idempotent
// consumer of step events. Counters are updated incrementally, never by
// re-scanning tasks.
package progress

import (
	"context"
	"sync"

	"scenesmith/internal/core"
	"scenesmith/internal/events"
	"scenesmith/internal/registry"
)

// Snapshot is the process-wide progress view.
type Snapshot struct {
	DoneScenes  int `json:"done_scenes"`
	TotalScenes int `json:"total_scenes"`
	DoneParts   int `json:"done_parts"`
	TotalParts  int `json:"total_parts"`
}

// Aggregator consumes step-completion events and maintains per-task scene
// counters (through the registry, which dedupes by scene index) plus O(1)
// global counters.
type Aggregator struct {
	registry *registry.Registry

	mu          sync.Mutex
	doneScenes  int
	totalScenes int
	doneParts   int
	totalParts  int
	planned     map[core.JobKey]int
	counted     map[core.JobKey]int
	partsDone   map[core.JobKey]bool
}

// New creates an aggregator backed by the registry.
func New(reg *registry.Registry) *Aggregator {
	return &Aggregator{
		registry:  reg,
		planned:   make(map[core.JobKey]int),
		counted:   make(map[core.JobKey]int),
		partsDone: make(map[core.JobKey]bool),
	}
}

// Plan registers a job's expected scene count before it runs. Re-planning
// the same key replaces its previous contribution, both the planned total
// and any scenes already counted for the prior run.
func (a *Aggregator) Plan(key core.JobKey, sceneTotal int) {
	a.registry.SetSceneTotal(key, sceneTotal)
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.planned[key]; ok {
		a.totalScenes -= prev
		a.doneScenes -= a.counted[key]
		a.counted[key] = 0
	} else {
		a.totalParts++
	}
	a.planned[key] = sceneTotal
	a.totalScenes += sceneTotal
	if a.partsDone[key] {
		a.partsDone[key] = false
		a.doneParts--
	}
}

// Handle processes one step event. Scene completions are counted exactly
// once per (key, scene) even under retries; part completions once per run.
func (a *Aggregator) Handle(ev core.StepEvent) {
	if ev.Phase != core.StepPhaseFinish {
		return
	}
	switch ev.Unit {
	case core.StepUnitScene:
		if !ev.OK {
			return
		}
		if a.registry.RecordSceneDone(ev.Key, ev.Scene) {
			a.mu.Lock()
			a.doneScenes++
			a.counted[ev.Key]++
			a.mu.Unlock()
		}
	case core.StepUnitPart:
		a.mu.Lock()
		if !a.partsDone[ev.Key] {
			a.partsDone[ev.Key] = true
			a.doneParts++
		}
		a.mu.Unlock()
	}
}

// Run subscribes to the bus and processes step events until the context is
// done or the bus closes. The subscription is lossless: dropping a scene
// event would undercount progress for the rest of the process.
func (a *Aggregator) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.SubscribePriority("step")
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if step, ok := ev.(events.Step); ok {
				a.Handle(step.StepEvent)
			}
		}
	}
}

// Snapshot returns the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		DoneScenes:  a.doneScenes,
		TotalScenes: a.totalScenes,
		DoneParts:   a.doneParts,
		TotalParts:  a.totalParts,
	}
}

// HealthRatio is confirmed-ok scenes over total scenes for one job; used
// only for reporting severity, never for control flow.
func (a *Aggregator) HealthRatio(key core.JobKey) float64 {
	snap, ok := a.registry.Status(key)
	if !ok {
		return 0
	}
	return snap.HealthRatio()
}
