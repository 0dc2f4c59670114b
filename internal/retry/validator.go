// Package retry implements the act/probe/compensate loop used for every
// actuator action whose success can only be confirmed by re-reading external
// state. One parameterized Validator replaces the per-site retry loops the
// call sites would otherwise duplicate.
package retry

import (
	"context"
	"log/slog"

	"scenesmith/internal/core"
)

// Kind classifies one probe of external state.
type Kind string

const (
	// KindOK means the target state was confirmed.
	KindOK Kind = "ok"
	// KindNeedsFollowup means a known secondary action (an explicit
	// confirmation) is still pending and can be auto-triggered.
	KindNeedsFollowup Kind = "needs_followup"
	// KindFailedEmpty means no recognizable state was found at all.
	KindFailedEmpty Kind = "failed_empty"
	// KindUnknown means the probe saw something it could not classify.
	KindUnknown Kind = "unknown"
)

// Outcome is the tagged result of one probe.
type Outcome struct {
	Kind     Kind
	Reason   string
	Artifact string
}

// Failure is the structured record written into a job's report when the
// loop exhausts its attempts.
type Failure struct {
	Kind     Kind
	Reason   string
	Attempt  int
	Artifact string
}

// Validator runs act, probes the result, optionally compensates, and
// retries from scratch until the outcome is ok or attempts run out.
// Exhaustion is non-fatal: the caller receives a Failure and decides
// criticality. Only context cancellation and session-fatal errors escape
// as errors.
type Validator struct {
	// MaxAttempts bounds the number of Act invocations. Defaults to 3.
	MaxAttempts int
	// Checkpoint is called before every external action; it carries the
	// pause gates and the cancellation check.
	Checkpoint func(ctx context.Context) error
	// Act performs the action under validation.
	Act func(ctx context.Context) error
	// Probe re-reads external state and classifies it.
	Probe func(ctx context.Context) (Outcome, error)
	// Compensate triggers the pending secondary action after a
	// needs_followup probe. Optional.
	Compensate func(ctx context.Context) error
	// Snapshot captures a diagnostic artifact before a retry. Optional.
	Snapshot func(ctx context.Context) string
	// Logger receives per-attempt diagnostics. Optional.
	Logger *slog.Logger
}

// Run executes the loop. It returns the final outcome, a non-nil Failure on
// exhaustion, and an error only for cancellation or session-fatal faults.
func (v *Validator) Run(ctx context.Context) (Outcome, *Failure, error) {
	attempts := v.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var last Outcome
	var artifact string

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := v.checkpoint(ctx); err != nil {
			return last, nil, err
		}

		if err := v.Act(ctx); err != nil {
			if fatal(ctx, err) {
				return last, nil, err
			}
			last = Outcome{Kind: KindUnknown, Reason: err.Error()}
		} else {
			out, err := v.probe(ctx)
			if err != nil {
				if fatal(ctx, err) {
					return last, nil, err
				}
				out = Outcome{Kind: KindUnknown, Reason: err.Error()}
			}
			last = out
		}

		if last.Kind == KindOK {
			return last, nil, nil
		}

		if last.Kind == KindNeedsFollowup && v.Compensate != nil {
			if err := v.checkpoint(ctx); err != nil {
				return last, nil, err
			}
			if err := v.Compensate(ctx); err != nil {
				if fatal(ctx, err) {
					return last, nil, err
				}
				last = Outcome{Kind: KindUnknown, Reason: err.Error()}
			} else {
				out, err := v.probe(ctx)
				if err != nil {
					if fatal(ctx, err) {
						return last, nil, err
					}
					out = Outcome{Kind: KindUnknown, Reason: err.Error()}
				}
				last = out
				if last.Kind == KindOK {
					return last, nil, nil
				}
			}
		}

		logger.Warn("retry attempt failed",
			"attempt", attempt,
			"kind", string(last.Kind),
			"reason", last.Reason,
		)

		if attempt < attempts && v.Snapshot != nil {
			artifact = v.Snapshot(ctx)
		}
	}

	if last.Artifact != "" {
		artifact = last.Artifact
	}
	return last, &Failure{
		Kind:     last.Kind,
		Reason:   last.Reason,
		Attempt:  attempts,
		Artifact: artifact,
	}, nil
}

func (v *Validator) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.Checkpoint != nil {
		return v.Checkpoint(ctx)
	}
	return nil
}

func (v *Validator) probe(ctx context.Context) (Outcome, error) {
	if err := v.checkpoint(ctx); err != nil {
		return Outcome{}, err
	}
	return v.Probe(ctx)
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || core.IsSessionFatal(err)
}
