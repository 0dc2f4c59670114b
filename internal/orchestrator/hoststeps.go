package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scenesmith/internal/core"
	"scenesmith/internal/logging"
	"scenesmith/internal/retry"
	"scenesmith/internal/workflow"
)

// Logical targets resolved by the driver. Keeping them here means the
// orchestration core never carries raw selectors.
const (
	targetSaveButton      = "editor.save"
	targetSaveToast       = "editor.save_toast"
	targetApplyConfirm    = "editor.apply_confirm"
	targetMediaPanel      = "media.panel"
	targetMediaSearch     = "media.search"
	targetMediaFirstHit   = "media.result[0]"
	targetMediaHitCount   = "media.result_count"
	targetMakeBackground  = "media.make_background"
	targetGenerateButton  = "editor.generate"
	targetGenerateConfirm = "editor.generate_confirm"
	targetSubmitButton    = "editor.submit"
	targetSubmitDone      = "editor.submit_done"
)

func sceneTextTarget(scene int) string       { return fmt.Sprintf("scene.text[%d]", scene) }
func sceneDeleteTarget(scene int) string     { return fmt.Sprintf("scene.delete[%d]", scene) }
func sceneBackgroundTarget(scene int) string { return fmt.Sprintf("scene.background[%d]", scene) }

// jobRun carries the mutable per-job state the host steps close over: the
// page, the scene rows and the accumulating report.
type jobRun struct {
	key    core.JobKey
	page   core.Actuator
	scenes []core.Unit
	report *core.Report
	orch   *Orchestrator
	logger *logging.Logger
}

func (j *jobRun) register(i *workflow.Interpreter) {
	i.Register(j.stepFillScene, workflow.StepFillScene)
	i.Register(j.stepHandleBroll, workflow.StepHandleBroll)
	i.Register(j.stepDeleteEmptyScenes, workflow.StepDeleteEmptyScenes)
	i.Register(j.stepSave, workflow.StepSave)
	i.Register(j.stepReloadAndValidate, workflow.StepReloadAndValidate)
	i.Register(j.stepConfirm, workflow.StepConfirm)
	i.RegisterTerminal(j.stepGenerate, workflow.StepGenerate)
	i.RegisterTerminal(j.stepFinalSubmit, workflow.StepFinalSubmit)
}

func (j *jobRun) snapshot(ctx context.Context) string {
	ref, err := j.page.Screenshot(ctx)
	if err != nil {
		j.logger.Debug("screenshot failed", "error", err)
		return ""
	}
	return ref
}

func (j *jobRun) sceneEvent(phase core.StepPhase, unit core.StepUnit, scene int, ok bool) {
	j.orch.bus.OnStep(core.StepEvent{
		Key:   j.key,
		Phase: phase,
		Unit:  unit,
		Scene: scene,
		OK:    ok,
	})
}

// stepFillScene types every scene's narration text into its editor field and
// validates each one by reading it back. A scene that cannot be confirmed
// after the retry budget becomes a report entry, never a job failure.
func (j *jobRun) stepFillScene(ctx context.Context, inv workflow.Invocation) error {
	between := workflow.ParamDuration(inv.Params, "between_scenes", j.orch.cfg.Delays.BetweenScenes)

	for _, unit := range j.scenes {
		if err := inv.Checkpoint(ctx); err != nil {
			return err
		}
		scene := unit.Scene
		expected := strings.TrimSpace(unit.Text)
		j.sceneEvent(core.StepPhaseStart, core.StepUnitScene, scene, false)

		v := &retry.Validator{
			MaxAttempts: j.orch.cfg.Retry.MaxAttempts,
			Checkpoint:  inv.Checkpoint,
			Logger:      j.logger.Logger,
			Act: func(ctx context.Context) error {
				if err := j.page.Click(ctx, sceneTextTarget(scene)); err != nil {
					return err
				}
				return j.page.Type(ctx, sceneTextTarget(scene), expected)
			},
			Probe: func(ctx context.Context) (retry.Outcome, error) {
				got, err := j.page.ReadText(ctx, sceneTextTarget(scene))
				if err != nil {
					return retry.Outcome{}, err
				}
				got = strings.TrimSpace(got)
				switch {
				case got == expected:
					return retry.Outcome{Kind: retry.KindOK}, nil
				case j.pending(ctx, targetApplyConfirm):
					return retry.Outcome{Kind: retry.KindNeedsFollowup, Reason: "apply confirmation pending"}, nil
				case got == "":
					return retry.Outcome{Kind: retry.KindFailedEmpty, Reason: "scene text empty after typing"}, nil
				default:
					return retry.Outcome{Kind: retry.KindUnknown, Reason: "scene text mismatch"}, nil
				}
			},
			Compensate: func(ctx context.Context) error {
				return j.page.Click(ctx, targetApplyConfirm)
			},
			Snapshot: j.snapshot,
		}

		_, failure, err := v.Run(ctx)
		if err != nil {
			j.sceneEvent(core.StepPhaseFinish, core.StepUnitScene, scene, false)
			return err
		}
		if failure != nil {
			j.report.Add(core.ReportValidationMissing, core.ReportEntry{
				Scene:    scene,
				Kind:     string(failure.Kind),
				Reason:   failure.Reason,
				Attempt:  failure.Attempt,
				Artifact: failure.Artifact,
			})
			j.sceneEvent(core.StepPhaseFinish, core.StepUnitScene, scene, false)
			j.logger.Warn("scene fill unconfirmed", "scene", scene, "reason", failure.Reason)
		} else {
			j.sceneEvent(core.StepPhaseFinish, core.StepUnitScene, scene, true)
		}

		if err := workflow.GatedSleep(ctx, between, inv.Checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// stepHandleBroll searches and applies a background clip per scene. Scenes
// with no usable query are skipped and recorded; exhausted retries are
// classified into no-results versus application errors.
func (j *jobRun) stepHandleBroll(ctx context.Context, inv workflow.Invocation) error {
	pause := workflow.ParamDuration(inv.Params, "broll_pause", j.orch.cfg.Delays.PreFill)

	for _, unit := range j.scenes {
		if err := inv.Checkpoint(ctx); err != nil {
			return err
		}
		scene := unit.Scene
		query := strings.TrimSpace(unit.Broll)
		if query == "" || strings.EqualFold(query, "nan") {
			j.report.Add(core.ReportBrollSkipped, core.ReportEntry{Scene: scene})
			continue
		}
		j.sceneEvent(core.StepPhaseStart, core.StepUnitBroll, scene, false)

		v := &retry.Validator{
			MaxAttempts: j.orch.cfg.Retry.MaxAttempts,
			Checkpoint:  inv.Checkpoint,
			Logger:      j.logger.Logger,
			Act: func(ctx context.Context) error {
				if err := j.page.Click(ctx, sceneTextTarget(scene)); err != nil {
					return err
				}
				if err := j.page.Click(ctx, targetMediaPanel); err != nil {
					return err
				}
				if err := j.page.Type(ctx, targetMediaSearch, query); err != nil {
					return err
				}
				if err := j.page.Press(ctx, targetMediaSearch, "Enter"); err != nil {
					return err
				}
				if err := j.page.WaitFor(ctx, targetMediaFirstHit, 5*time.Second); err != nil {
					// Empty result sets are classified by the probe.
					return nil
				}
				if err := j.page.Click(ctx, targetMediaFirstHit); err != nil {
					return err
				}
				return j.page.Click(ctx, targetMakeBackground)
			},
			Probe: func(ctx context.Context) (retry.Outcome, error) {
				if err := j.page.WaitFor(ctx, sceneBackgroundTarget(scene), 2*time.Second); err == nil {
					return retry.Outcome{Kind: retry.KindOK}, nil
				}
				if j.pending(ctx, targetApplyConfirm) {
					return retry.Outcome{Kind: retry.KindNeedsFollowup, Reason: "background confirmation pending"}, nil
				}
				count, err := j.page.ReadText(ctx, targetMediaHitCount)
				if err != nil {
					return retry.Outcome{}, err
				}
				if strings.TrimSpace(count) == "0" {
					return retry.Outcome{Kind: retry.KindFailedEmpty, Reason: "no media results for query"}, nil
				}
				return retry.Outcome{Kind: retry.KindUnknown, Reason: "background not applied"}, nil
			},
			Compensate: func(ctx context.Context) error {
				return j.page.Click(ctx, targetApplyConfirm)
			},
			Snapshot: j.snapshot,
		}

		_, failure, err := v.Run(ctx)
		if err != nil {
			j.sceneEvent(core.StepPhaseFinish, core.StepUnitBroll, scene, false)
			return err
		}
		if failure != nil {
			cat := core.ReportBrollErrors
			if failure.Kind == retry.KindFailedEmpty {
				cat = core.ReportBrollNoResults
			}
			j.report.Add(cat, core.ReportEntry{
				Scene:    scene,
				Query:    query,
				Kind:     string(failure.Kind),
				Reason:   failure.Reason,
				Attempt:  failure.Attempt,
				Artifact: failure.Artifact,
			})
			j.sceneEvent(core.StepPhaseFinish, core.StepUnitBroll, scene, false)
			j.logger.Warn("broll unresolved", "scene", scene, "query", query, "reason", failure.Reason)
		} else {
			j.sceneEvent(core.StepPhaseFinish, core.StepUnitBroll, scene, true)
		}

		if err := workflow.GatedSleep(ctx, pause, inv.Checkpoint); err != nil {
			return err
		}
	}
	return nil
}

// stepDeleteEmptyScenes walks template slots beyond the filled rows and
// removes the ones whose text field is empty. Descending order keeps slot
// indices stable while deleting.
func (j *jobRun) stepDeleteEmptyScenes(ctx context.Context, inv workflow.Invocation) error {
	maxSlots := workflow.ParamInt(inv.Params, "max_scenes", len(j.scenes))
	deleted := 0
	for slot := maxSlots; slot >= 1; slot-- {
		if err := inv.Checkpoint(ctx); err != nil {
			return err
		}
		text, err := j.page.ReadText(ctx, sceneTextTarget(slot))
		if err != nil {
			if core.IsSessionFatal(err) {
				return err
			}
			continue
		}
		if strings.TrimSpace(text) != "" {
			continue
		}
		if err := j.page.Click(ctx, sceneDeleteTarget(slot)); err != nil {
			if core.IsSessionFatal(err) {
				return err
			}
			j.logger.Warn("deleting empty scene failed", "slot", slot, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		j.logger.Info("empty scenes deleted", "count", deleted)
	}
	return nil
}

// stepSave triggers a save and waits for the toast; when the toast never
// shows it falls back to a fixed gated delay rather than failing the job.
func (j *jobRun) stepSave(ctx context.Context, inv workflow.Invocation) error {
	if err := inv.Checkpoint(ctx); err != nil {
		return err
	}
	if err := j.page.Click(ctx, targetSaveButton); err != nil {
		return err
	}
	timeout := workflow.ParamDuration(inv.Params, "timeout", 8*time.Second)
	if err := j.page.WaitFor(ctx, targetSaveToast, timeout); err != nil {
		if core.IsSessionFatal(err) {
			return err
		}
		j.logger.Debug("save toast not observed, waiting fixed delay")
		return workflow.GatedSleep(ctx, j.orch.cfg.Delays.SaveFallback, inv.Checkpoint)
	}
	return nil
}

// stepReloadAndValidate saves, reloads the page and re-reads every scene's
// text. Mismatches are recorded; the step itself only fails on
// session-fatal faults.
func (j *jobRun) stepReloadAndValidate(ctx context.Context, inv workflow.Invocation) error {
	if err := j.stepSave(ctx, inv); err != nil {
		return err
	}
	if err := inv.Checkpoint(ctx); err != nil {
		return err
	}
	if err := j.page.Reload(ctx); err != nil {
		return err
	}
	if err := workflow.GatedSleep(ctx, j.orch.cfg.Delays.PostReload, inv.Checkpoint); err != nil {
		return err
	}

	mismatches := 0
	for _, unit := range j.scenes {
		if err := inv.Checkpoint(ctx); err != nil {
			return err
		}
		got, err := j.page.ReadText(ctx, sceneTextTarget(unit.Scene))
		if err != nil {
			if core.IsSessionFatal(err) {
				return err
			}
			got = ""
		}
		if strings.TrimSpace(got) == strings.TrimSpace(unit.Text) {
			continue
		}
		mismatches++
		j.report.Add(core.ReportValidationMissing, core.ReportEntry{
			Scene:  unit.Scene,
			Reason: "scene text missing after reload",
		})
	}
	if mismatches > 0 {
		j.logger.Warn("reload validation found gaps", "count", mismatches)
		if workflow.ParamBool(inv.Params, "require_clean", false) {
			j.report.Add(core.ReportManualIntervention, core.ReportEntry{
				Reason: fmt.Sprintf("%d scenes unverified after reload", mismatches),
			})
		}
	}
	return nil
}

// stepConfirm announces the pending submission and waits a gated interval,
// giving the operator the window to pause or stop.
func (j *jobRun) stepConfirm(ctx context.Context, inv workflow.Invocation) error {
	wait := workflow.ParamDuration(inv.Params, "wait", j.orch.cfg.Delays.Confirm)
	j.orch.bus.OnNotice(fmt.Sprintf("%s: submitting in %s, pause or stop to intervene", j.key.String(), wait))
	return workflow.GatedSleep(ctx, wait, inv.Checkpoint)
}

func (j *jobRun) stepGenerate(ctx context.Context, inv workflow.Invocation) error {
	if err := inv.Checkpoint(ctx); err != nil {
		return err
	}
	if err := j.page.Click(ctx, targetGenerateButton); err != nil {
		return err
	}
	if err := j.page.WaitFor(ctx, targetGenerateConfirm, 10*time.Second); err != nil {
		return fmt.Errorf("generate confirmation dialog: %w", err)
	}
	if err := j.page.Click(ctx, targetGenerateConfirm); err != nil {
		return err
	}
	j.orch.bus.OnNotice(j.key.String() + ": generation started")
	return nil
}

func (j *jobRun) stepFinalSubmit(ctx context.Context, inv workflow.Invocation) error {
	if err := inv.Checkpoint(ctx); err != nil {
		return err
	}
	if err := j.page.Click(ctx, targetSubmitButton); err != nil {
		return err
	}
	timeout := workflow.ParamDuration(inv.Params, "timeout", 30*time.Second)
	if err := j.page.WaitFor(ctx, targetSubmitDone, timeout); err != nil {
		return fmt.Errorf("awaiting submit confirmation: %w", err)
	}
	j.orch.bus.OnNotice(j.key.String() + ": submitted")
	return nil
}

// pending reports whether a confirmation control is currently visible. Any
// wait error is treated as absent.
func (j *jobRun) pending(ctx context.Context, target string) bool {
	return j.page.WaitFor(ctx, target, 500*time.Millisecond) == nil
}
