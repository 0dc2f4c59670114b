package workflow

import (
	"context"
	"time"

	"scenesmith/internal/core"
)

// Pure step types operate only on the page and their params; they need no
// job state beyond the rendering context.
const (
	StepNavigate        = "navigate"
	StepNavigateToTmpl  = "navigate_to_template"
	StepWaitForSelector = "wait_for_selector"
	StepWaitFor         = "wait_for"
	StepSleep           = "sleep"
	StepWait            = "wait"
	StepClick           = "click"
	StepFill            = "fill"
	StepPress           = "press"
)

// Host step types require full job state and are registered by the
// orchestrator, not here.
const (
	StepFillScene         = "fill_scene"
	StepHandleBroll       = "handle_broll"
	StepDeleteEmptyScenes = "delete_empty_scenes"
	StepSave              = "save"
	StepReloadAndValidate = "reload_and_validate"
	StepConfirm           = "confirm"
	StepGenerate          = "generate"
	StepFinalSubmit       = "final_submit"
)

// RegisterBuiltins installs the pure step handlers.
func RegisterBuiltins(i *Interpreter) {
	i.Register(execNavigate, StepNavigate, StepNavigateToTmpl)
	i.Register(execWaitFor, StepWaitFor, StepWaitForSelector)
	i.Register(execSleep, StepSleep, StepWait)
	i.Register(execClick, StepClick)
	i.Register(execFill, StepFill)
	i.Register(execPress, StepPress)
}

func execNavigate(ctx context.Context, inv Invocation) error {
	url := ParamString(inv.Params, "url", "")
	if url == "" {
		if v, ok := inv.Ctx["template_url"].(string); ok {
			url = v
		}
	}
	if url == "" {
		return core.ErrValidation("NAVIGATE_NO_URL", "navigate step has no url")
	}
	return inv.Page.Navigate(ctx, url)
}

func execWaitFor(ctx context.Context, inv Invocation) error {
	target := ParamString(inv.Params, "target", ParamString(inv.Params, "selector", ""))
	if target == "" {
		return nil
	}
	timeout := ParamDuration(inv.Params, "timeout", 30*time.Second)
	return inv.Page.WaitFor(ctx, target, timeout)
}

// execSleep sleeps in small chunks, re-checking the gates and cancellation
// between chunks so pause latency stays bounded by the chunk size, not the
// total delay.
func execSleep(ctx context.Context, inv Invocation) error {
	d := ParamDuration(inv.Params, "sec", time.Second)
	return GatedSleep(ctx, d, inv.Checkpoint)
}

func execClick(ctx context.Context, inv Invocation) error {
	target := ParamString(inv.Params, "target", ParamString(inv.Params, "selector", ""))
	if target == "" {
		return nil
	}
	return inv.Page.Click(ctx, target)
}

func execFill(ctx context.Context, inv Invocation) error {
	target := ParamString(inv.Params, "target", ParamString(inv.Params, "selector", ""))
	if target == "" {
		return nil
	}
	text := ParamString(inv.Params, "text", "")
	return inv.Page.Type(ctx, target, text)
}

func execPress(ctx context.Context, inv Invocation) error {
	target := ParamString(inv.Params, "target", ParamString(inv.Params, "selector", ""))
	key := ParamString(inv.Params, "key", "")
	if target == "" || key == "" {
		return nil
	}
	return inv.Page.Press(ctx, target, key)
}

// GatedSleep waits for d in 200ms chunks, invoking checkpoint before each
// chunk. Checkpoint may be nil.
func GatedSleep(ctx context.Context, d time.Duration, checkpoint func(ctx context.Context) error) error {
	const chunk = 200 * time.Millisecond
	for remaining := d; remaining > 0; remaining -= chunk {
		if checkpoint != nil {
			if err := checkpoint(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		step := chunk
		if remaining < chunk {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
