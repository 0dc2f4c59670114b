package retry

import (
	"context"
	"errors"
	"testing"

	"scenesmith/internal/core"
)

func TestValidator_OKFirstAttempt(t *testing.T) {
	acts := 0
	v := &Validator{
		Act: func(context.Context) error { acts++; return nil },
		Probe: func(context.Context) (Outcome, error) {
			return Outcome{Kind: KindOK}, nil
		},
	}
	out, failure, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failure != nil {
		t.Errorf("unexpected failure: %+v", failure)
	}
	if out.Kind != KindOK {
		t.Errorf("expected ok, got %s", out.Kind)
	}
	if acts != 1 {
		t.Errorf("expected 1 act, got %d", acts)
	}
}

func TestValidator_FollowupThenOK(t *testing.T) {
	// The act half-applies: the probe sees a pending confirmation, the
	// compensation clicks it, the re-probe confirms. One attempt total.
	acts, compensations, probes := 0, 0, 0
	v := &Validator{
		Act: func(context.Context) error { acts++; return nil },
		Probe: func(context.Context) (Outcome, error) {
			probes++
			if compensations == 0 {
				return Outcome{Kind: KindNeedsFollowup, Reason: "confirm pending"}, nil
			}
			return Outcome{Kind: KindOK}, nil
		},
		Compensate: func(context.Context) error { compensations++; return nil },
	}

	out, failure, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failure != nil {
		t.Errorf("unexpected failure: %+v", failure)
	}
	if out.Kind != KindOK {
		t.Errorf("expected ok, got %s", out.Kind)
	}
	if acts != 1 || compensations != 1 || probes != 2 {
		t.Errorf("expected 1 act, 1 compensation, 2 probes; got %d/%d/%d", acts, compensations, probes)
	}
}

func TestValidator_ExhaustionReturnsFailure(t *testing.T) {
	acts := 0
	v := &Validator{
		MaxAttempts: 3,
		Act:         func(context.Context) error { acts++; return nil },
		Probe: func(context.Context) (Outcome, error) {
			return Outcome{Kind: KindFailedEmpty, Reason: "no results"}, nil
		},
	}

	out, failure, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("exhaustion must not be an error: %v", err)
	}
	if acts != 3 {
		t.Errorf("expected exactly 3 acts, got %d", acts)
	}
	if out.Kind != KindFailedEmpty {
		t.Errorf("expected failed_empty outcome, got %s", out.Kind)
	}
	if failure == nil {
		t.Fatal("expected a failure record")
	}
	if failure.Kind != KindFailedEmpty || failure.Attempt != 3 || failure.Reason != "no results" {
		t.Errorf("unexpected failure: %+v", failure)
	}
}

func TestValidator_SnapshotBetweenAttempts(t *testing.T) {
	snaps := 0
	v := &Validator{
		MaxAttempts: 3,
		Act:         func(context.Context) error { return nil },
		Probe: func(context.Context) (Outcome, error) {
			return Outcome{Kind: KindUnknown, Reason: "mismatch"}, nil
		},
		Snapshot: func(context.Context) string {
			snaps++
			return "shot.png"
		},
	}
	_, failure, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A snapshot before each retry, none after the final attempt.
	if snaps != 2 {
		t.Errorf("expected 2 snapshots, got %d", snaps)
	}
	if failure == nil || failure.Artifact != "shot.png" {
		t.Errorf("failure should carry the last artifact: %+v", failure)
	}
}

func TestValidator_ActErrorIsRetried(t *testing.T) {
	acts := 0
	v := &Validator{
		MaxAttempts: 2,
		Act: func(context.Context) error {
			acts++
			if acts == 1 {
				return errors.New("element not found")
			}
			return nil
		},
		Probe: func(context.Context) (Outcome, error) {
			return Outcome{Kind: KindOK}, nil
		},
	}
	out, failure, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failure != nil || out.Kind != KindOK {
		t.Errorf("expected recovery on second attempt, got %+v / %s", failure, out.Kind)
	}
}

func TestValidator_SessionFatalEscapes(t *testing.T) {
	acts := 0
	v := &Validator{
		MaxAttempts: 3,
		Act: func(context.Context) error {
			acts++
			return core.ErrSessionClosed("browser gone")
		},
		Probe: func(context.Context) (Outcome, error) {
			t.Fatal("probe must not run after a fatal act")
			return Outcome{}, nil
		},
	}
	_, failure, err := v.Run(context.Background())
	if err == nil {
		t.Fatal("session-fatal error must escape")
	}
	if !core.IsSessionFatal(err) {
		t.Errorf("escaped error should stay session-fatal: %v", err)
	}
	if failure != nil {
		t.Error("no failure record on fatal escape")
	}
	if acts != 1 {
		t.Errorf("expected no retries after fatal, got %d acts", acts)
	}
}

func TestValidator_CancellationEscapes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := &Validator{
		Act: func(context.Context) error {
			t.Fatal("act must not run on a cancelled context")
			return nil
		},
		Probe: func(context.Context) (Outcome, error) { return Outcome{}, nil },
	}
	_, _, err := v.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestValidator_CheckpointGatesAttempts(t *testing.T) {
	checkpoints := 0
	v := &Validator{
		MaxAttempts: 2,
		Checkpoint: func(context.Context) error {
			checkpoints++
			return nil
		},
		Act: func(context.Context) error { return nil },
		Probe: func(context.Context) (Outcome, error) {
			return Outcome{Kind: KindUnknown}, nil
		},
	}
	if _, _, err := v.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkpoints < 2 {
		t.Errorf("checkpoint should run before every attempt, got %d", checkpoints)
	}
}
