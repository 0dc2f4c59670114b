// Package orchestrator owns the scheduler, the gates and the task registry,
// and turns submitted jobs into interpreted workflow runs against the
// shared browser-automation session.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"scenesmith/internal/config"
	"scenesmith/internal/control"
	"scenesmith/internal/core"
	"scenesmith/internal/events"
	"scenesmith/internal/logging"
	"scenesmith/internal/progress"
	"scenesmith/internal/registry"
	"scenesmith/internal/workflow"
)

// SnapshotStore persists terminal task snapshots. Optional.
type SnapshotStore interface {
	Save(ctx context.Context, snap core.TaskSnapshot) error
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator is the explicit owner of all job state: registry, gates,
// concurrency slots and running handles. Nothing here is package-level.
type Orchestrator struct {
	cfg      *config.Config
	logger   *logging.Logger
	bus      *events.Bus
	registry *registry.Registry
	progress *progress.Aggregator
	session  core.Session
	content  core.ContentSource
	notifier core.NotificationSink
	store    SnapshotStore

	globalGate *control.Gate
	taskGates  *control.KeyedGates
	sem        *semaphore.Weighted
	policy     core.BlockPolicy

	mu      sync.Mutex
	handles map[core.JobKey]*handle

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles an orchestrator. The notifier and store may be nil.
func New(
	cfg *config.Config,
	logger *logging.Logger,
	bus *events.Bus,
	reg *registry.Registry,
	agg *progress.Aggregator,
	session core.Session,
	content core.ContentSource,
	notifier core.NotificationSink,
	store SnapshotStore,
) *Orchestrator {
	baseCtx, cancel := context.WithCancel(context.Background())
	policy := core.BlockPolicy{}
	for _, cat := range cfg.Blocking.Categories {
		policy.Categories = append(policy.Categories, core.ReportCategory(cat))
	}
	if len(policy.Categories) == 0 {
		policy = core.DefaultBlockPolicy()
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		registry:   reg,
		progress:   agg,
		session:    session,
		content:    content,
		notifier:   notifier,
		store:      store,
		globalGate: control.NewGate(),
		taskGates:  control.NewKeyedGates(),
		sem:        semaphore.NewWeighted(int64(cfg.Scheduler.MaxConcurrency)),
		policy:     policy,
		handles:    make(map[core.JobKey]*handle),
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

// checkpoint is the single suspend-and-check primitive: cancellation first,
// then the global gate, then the task's own gate. It sits before every
// external action and inside every explicit delay, which is what bounds
// pause latency to the checkpoint granularity.
func (o *Orchestrator) checkpoint(ctx context.Context, key core.JobKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.globalGate.Wait(ctx); err != nil {
		return err
	}
	return o.taskGates.Get(key).Wait(ctx)
}

// Submit schedules one job. It is idempotent: a live run for the same key
// makes it a no-op. The job waits for a concurrency slot and for both gates
// before its body starts.
func (o *Orchestrator) Submit(key core.JobKey, steps []core.WorkflowStep, rc core.RunContext, scenes []core.Unit) {
	o.mu.Lock()
	if h, ok := o.handles[key]; ok {
		select {
		case <-h.done:
			// previous run finished, fall through to resubmit
		default:
			o.mu.Unlock()
			o.logger.Debug("submit ignored, job already live", "task", key.String())
			return
		}
	}
	runCtx, cancel := context.WithCancel(o.baseCtx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	o.handles[key] = h
	o.mu.Unlock()

	o.registry.Ensure(key)
	o.progress.Plan(key, len(scenes))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(h.done)
		o.run(runCtx, key, steps, rc, scenes)
	}()
}

// SubmitCollection plans one job per part of the collection and submits
// them all. Parts filters the plan when non-empty. Settings, usually a
// workflow's settings block, become fallback render variables for every job.
func (o *Orchestrator) SubmitCollection(ctx context.Context, collection string, parts []int, steps []core.WorkflowStep, settings map[string]any) ([]core.JobKey, error) {
	units, err := o.content.GetUnits(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("loading units for %s: %w", collection, err)
	}
	if len(units) == 0 {
		return nil, core.ErrNotFound("COLLECTION_EMPTY", collection)
	}

	wanted := make(map[int]bool, len(parts))
	for _, p := range parts {
		wanted[p] = true
	}
	byPart := make(map[int][]core.Unit)
	for _, u := range units {
		if len(wanted) > 0 && !wanted[u.Part] {
			continue
		}
		byPart[u.Part] = append(byPart[u.Part], u)
	}

	partIdx := make([]int, 0, len(byPart))
	for p := range byPart {
		partIdx = append(partIdx, p)
	}
	sort.Ints(partIdx)

	keys := make([]core.JobKey, 0, len(partIdx))
	for _, p := range partIdx {
		scenes := byPart[p]
		sort.Slice(scenes, func(i, j int) bool { return scenes[i].Scene < scenes[j].Scene })
		key := core.JobKey{Collection: collection, Part: p}
		rc := core.NewRunContext(key, scenes[0].TemplateURL, scenes[0].Title, len(scenes))
		rc.MergeDefaults(settings)
		o.Submit(key, steps, rc, scenes)
		keys = append(keys, key)
	}
	return keys, nil
}

// run is one job body, from slot acquisition to finalization.
func (o *Orchestrator) run(ctx context.Context, key core.JobKey, steps []core.WorkflowStep, rc core.RunContext, scenes []core.Unit) {
	defer o.removeHandle(key)
	logger := o.logger.WithTask(key)
	runID := uuid.NewString()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.markStopped(key)
		return
	}
	defer o.sem.Release(1)

	if err := o.checkpoint(ctx, key); err != nil {
		o.markStopped(key)
		return
	}

	o.registry.Start(key)
	o.bus.OnTransition(key, core.TaskStatusRunning)
	o.bus.OnStep(core.StepEvent{Key: key, Phase: core.StepPhaseStart, Unit: core.StepUnitPart})
	logger.Info("job started", "run_id", runID, "scenes", len(scenes))

	page, err := o.session.NewPage(ctx)
	if err != nil {
		o.finalize(ctx, key, nil, fmt.Errorf("opening page: %w", err), logger)
		return
	}
	defer page.Close(context.Background())

	job := &jobRun{
		key:    key,
		page:   page,
		scenes: scenes,
		report: core.NewReport(),
		orch:   o,
		logger: logger,
	}

	interp := workflow.New(
		workflow.WithLogger(logger.Logger),
		workflow.WithCheckpoint(func(c context.Context) error { return o.checkpoint(c, key) }),
		workflow.WithBlockedPredicate(func() (bool, string) { return o.policy.Blocks(job.report) }),
		workflow.WithStageFunc(func(label string) { o.registry.SetStage(key, label) }),
		workflow.WithNoticeFunc(o.bus.OnNotice),
	)
	workflow.RegisterBuiltins(interp)
	job.register(interp)

	err = interp.Run(ctx, key, page, steps, rc)
	o.finalize(ctx, key, job, err, logger)
}

// finalize settles the record, publishes the part event and persists the
// snapshot. job may be nil when the body never got a page.
func (o *Orchestrator) finalize(ctx context.Context, key core.JobKey, job *jobRun, err error, logger *logging.Logger) {
	var summary map[string]int
	if job != nil {
		summary = job.report.Summary()
	}

	ok := err == nil
	switch {
	case ctx.Err() != nil:
		o.markStopped(key)
		ok = false
	case err != nil:
		o.registry.SetError(key, err.Error())
		if ferr := o.registry.Finish(key, false, summary); ferr != nil {
			logger.Debug("finish skipped", "error", ferr)
		} else {
			o.bus.OnTransition(key, core.TaskStatusFailed)
		}
		logger.Error("job failed", "error", err)
		if core.IsSessionFatal(err) {
			// One job's session loss invalidates every job sharing it.
			go o.StopAll("session_closed")
		}
	default:
		if ferr := o.registry.Finish(key, true, summary); ferr != nil {
			logger.Debug("finish skipped", "error", ferr)
		} else {
			o.bus.OnTransition(key, core.TaskStatusSuccess)
		}
		logger.Info("job finished", "report", summary)
	}

	o.bus.OnStep(core.StepEvent{Key: key, Phase: core.StepPhaseFinish, Unit: core.StepUnitPart, OK: ok})
	o.notify(fmt.Sprintf("job %s finished ok=%t", key.String(), ok))

	if o.store != nil {
		if snap, found := o.registry.Status(key); found {
			if serr := o.store.Save(context.Background(), snap); serr != nil {
				logger.Warn("persisting snapshot failed", "error", serr)
			}
		}
	}
}

func (o *Orchestrator) markStopped(key core.JobKey) {
	if err := o.registry.MarkStopped(key); err == nil {
		o.bus.OnTransition(key, core.TaskStatusStopped)
	}
}

func (o *Orchestrator) removeHandle(key core.JobKey) {
	o.mu.Lock()
	delete(o.handles, key)
	o.mu.Unlock()
}

// knownTask rejects control requests for keys nothing ever submitted, so
// they neither fabricate records nor leave gates behind.
func (o *Orchestrator) knownTask(key core.JobKey) error {
	if _, found := o.registry.Status(key); !found {
		return core.ErrNotFound("TASK_NOT_FOUND", "no such task: "+key.String())
	}
	return nil
}

// Pause closes the job's gate; the body suspends at its next checkpoint.
func (o *Orchestrator) Pause(key core.JobKey) error {
	if err := o.knownTask(key); err != nil {
		return err
	}
	o.taskGates.Get(key).Close()
	if err := o.registry.MarkPaused(key); err == nil {
		o.bus.OnTransition(key, core.TaskStatusPaused)
	}
	return nil
}

// Resume reopens the job's gate.
func (o *Orchestrator) Resume(key core.JobKey) error {
	if err := o.knownTask(key); err != nil {
		return err
	}
	o.taskGates.Get(key).Open()
	if err := o.registry.MarkResumed(key); err == nil {
		o.bus.OnTransition(key, core.TaskStatusRunning)
	}
	return nil
}

// Stop requests cooperative cancellation for one job. The gate is opened so
// a paused body observes the cancellation promptly.
func (o *Orchestrator) Stop(key core.JobKey) error {
	if err := o.knownTask(key); err != nil {
		return err
	}
	o.mu.Lock()
	h := o.handles[key]
	o.mu.Unlock()
	if h != nil {
		h.cancel()
	}
	o.taskGates.Get(key).Open()
	o.markStopped(key)
	return nil
}

// PauseAll closes the global gate; every job suspends at its next
// checkpoint.
func (o *Orchestrator) PauseAll() {
	o.globalGate.Close()
	for _, snap := range o.registry.List(registry.ListFilter{Status: core.TaskStatusRunning}) {
		if err := o.registry.MarkPaused(snap.Key); err == nil {
			o.bus.OnTransition(snap.Key, core.TaskStatusPaused)
		}
	}
	o.bus.OnNotice("paused")
}

// ResumeAll reopens the global gate.
func (o *Orchestrator) ResumeAll() {
	o.globalGate.Open()
	for _, snap := range o.registry.List(registry.ListFilter{Status: core.TaskStatusPaused}) {
		if err := o.registry.MarkResumed(snap.Key); err == nil {
			o.bus.OnTransition(snap.Key, core.TaskStatusRunning)
		}
	}
	o.bus.OnNotice("resumed")
}

// StopAll cancels every live job and marks every non-terminal record
// stopped, so desired and actual stoppage converge even for bodies that
// never ran. It is also the fail-safe reaction to a session-fatal fault.
// All gates end open.
func (o *Orchestrator) StopAll(reason string) {
	o.globalGate.Close()

	o.mu.Lock()
	handles := make([]*handle, 0, len(o.handles))
	for _, h := range o.handles {
		handles = append(handles, h)
	}
	o.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}

	// Unblock cancelled waiters into their cancellation paths.
	o.taskGates.OpenAll()

	for _, key := range o.registry.NonTerminalKeys() {
		o.markStopped(key)
	}

	o.globalGate.Open()
	o.bus.OnNotice("stopped: " + reason)
	o.notify("all jobs stopped: " + reason)
	o.logger.Warn("stop all", "reason", reason)
}

// Status returns the snapshot for one job.
func (o *Orchestrator) Status(key core.JobKey) (core.TaskSnapshot, bool) {
	return o.registry.Status(key)
}

// ListStatuses returns snapshots matching the filter.
func (o *Orchestrator) ListStatuses(filter registry.ListFilter) []core.TaskSnapshot {
	return o.registry.List(filter)
}

// Progress returns the global counters.
func (o *Orchestrator) Progress() progress.Snapshot {
	return o.progress.Snapshot()
}

// Shutdown cancels everything and waits for job bodies to unwind.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.taskGates.OpenAll()
	o.globalGate.Open()
	o.wg.Wait()
}

func (o *Orchestrator) notify(summary string) {
	if o.notifier == nil {
		return
	}
	go func() {
		if err := o.notifier.Send(context.Background(), summary); err != nil {
			o.logger.Warn("notification failed", "error", err)
		}
	}()
}
