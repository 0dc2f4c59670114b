// Package workflow interprets declarative step lists against a rendering
// context and a step registry. The interpreter guarantees ordered,
// sequential dispatch and placeholder rendering; host steps carry the job
// state and are registered by the orchestrator.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"scenesmith/internal/core"
)

// Invocation is everything a handler receives for one step.
type Invocation struct {
	Key    core.JobKey
	Step   core.WorkflowStep
	Params map[string]any // placeholder-rendered copy of Step.Params
	Ctx    core.RunContext
	Page   core.Actuator

	// Checkpoint suspends at the pause gates and observes cancellation.
	// Handlers call it before external actions and inside long delays.
	Checkpoint func(ctx context.Context) error
}

// Handler executes one step. Returning core.ErrStepSkipped is a non-fatal
// skip; any other error aborts the remaining steps of the job.
type Handler func(ctx context.Context, inv Invocation) error

type registration struct {
	handler  Handler
	terminal bool
}

// Interpreter dispatches steps by type against registered handlers.
type Interpreter struct {
	handlers map[string]registration
	logger   *slog.Logger

	// checkpoint is invoked before every step.
	checkpoint func(ctx context.Context) error
	// blocked decides whether terminal steps must be skipped; computed by
	// the host from accumulated report contents.
	blocked func() (bool, string)
	// onStage records the last-step label for status reporting.
	onStage func(label string)
	// onNotice surfaces operator-facing messages.
	onNotice func(message string)
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithCheckpoint sets the gate/cancellation check run before every step.
func WithCheckpoint(fn func(ctx context.Context) error) Option {
	return func(i *Interpreter) { i.checkpoint = fn }
}

// WithBlockedPredicate sets the predicate gating terminal steps.
func WithBlockedPredicate(fn func() (bool, string)) Option {
	return func(i *Interpreter) { i.blocked = fn }
}

// WithStageFunc sets the stage label callback.
func WithStageFunc(fn func(label string)) Option {
	return func(i *Interpreter) { i.onStage = fn }
}

// WithNoticeFunc sets the notice callback.
func WithNoticeFunc(fn func(message string)) Option {
	return func(i *Interpreter) { i.onNotice = fn }
}

// WithLogger sets the interpreter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) { i.logger = logger }
}

// New creates an interpreter with no handlers registered.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		handlers: make(map[string]registration),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Register binds a handler to a step type and its aliases.
func (i *Interpreter) Register(h Handler, types ...string) {
	for _, t := range types {
		i.handlers[t] = registration{handler: h}
	}
}

// RegisterTerminal binds a handler whose step is skipped while the blocked
// predicate holds, so a job with unresolved issues never reaches
// irreversible external side effects.
func (i *Interpreter) RegisterTerminal(h Handler, types ...string) {
	for _, t := range types {
		i.handlers[t] = registration{handler: h, terminal: true}
	}
}

// Run executes the steps in order. Unknown step types are logged and
// skipped; an empty step list is a configuration error. The first handler
// error aborts the remaining steps and is returned as the job's fatal
// error.
func (i *Interpreter) Run(ctx context.Context, key core.JobKey, page core.Actuator, steps []core.WorkflowStep, rc core.RunContext) error {
	if len(steps) == 0 {
		return core.ErrValidation("EMPTY_WORKFLOW", "workflow has no steps")
	}

	for idx, step := range steps {
		if i.checkpoint != nil {
			if err := i.checkpoint(ctx); err != nil {
				return err
			}
		}

		reg, ok := i.handlers[step.Type]
		if !ok {
			i.logger.Warn("unknown workflow step type, skipping",
				"task", key.String(),
				"step", step.Type,
				"index", idx,
			)
			continue
		}

		label := step.Type
		if step.ID != "" {
			label = fmt.Sprintf("%s(%s)", step.Type, step.ID)
		}
		if i.onStage != nil {
			i.onStage(label)
		}

		if reg.terminal && i.blocked != nil {
			if blocked, reason := i.blocked(); blocked {
				i.logger.Warn("terminal step blocked by report, skipping",
					"task", key.String(),
					"step", step.Type,
					"reason", reason,
				)
				if i.onNotice != nil {
					i.onNotice(fmt.Sprintf("%s blocked: %s", step.Type, reason))
				}
				continue
			}
		}

		inv := Invocation{
			Key:        key,
			Step:       step,
			Params:     renderParams(step.Params, rc),
			Ctx:        rc,
			Page:       page,
			Checkpoint: i.checkpoint,
		}

		err := reg.handler(ctx, inv)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrStepSkipped):
			i.logger.Info("workflow step skipped",
				"task", key.String(),
				"step", step.Type,
			)
		default:
			return fmt.Errorf("step %s: %w", label, err)
		}
	}
	return nil
}
