package domain

import (
	"errors"
	"testing"
	"time"
)

func TestProcessingRunTransitions(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

	run := &ProcessingRun{Status: RunPending}
	if err := run.Transition(RunCompleted, at); !errors.Is(err, ErrInvalidRunTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}

	if err := run.Transition(RunRunning, at); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if run.StartedAt == nil || !run.StartedAt.Equal(at) {
		t.Fatalf("expected StartedAt to be recorded")
	}

	if err := run.Transition(RunCompleted, at.Add(time.Minute)); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}
	if !run.Finished() || run.FinishedAt == nil {
		t.Fatalf("expected finished run")
	}

	if err := run.Transition(RunRunning, at); !errors.Is(err, ErrInvalidRunTransition) {
		t.Fatalf("completed is terminal, got %v", err)
	}
}

func TestProcessingRunTotals(t *testing.T) {
	t.Parallel()

	run := &ProcessingRun{Owners: []OwnerResult{
		{OwnerID: "a", Materialized: 2, Skipped: 1},
		{OwnerID: "b", Materialized: 1, Failed: 1, Errors: []string{"boom"}},
	}}

	m, s, f := run.Totals()
	if m != 3 || s != 1 || f != 1 {
		t.Fatalf("unexpected totals m=%d s=%d f=%d", m, s, f)
	}

	failed := run.FailedOwners()
	if len(failed) != 1 || failed[0] != "b" {
		t.Fatalf("expected owner b to be failed, got %v", failed)
	}
}
