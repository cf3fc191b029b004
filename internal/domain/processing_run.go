package domain

import (
	"fmt"
	"time"
)

// RunStatus is the state of a materialization run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunFailed},
	RunRunning: {RunCompleted, RunFailed},
}

// OwnerResult summarizes one owner's share of a run.
type OwnerResult struct {
	OwnerID      string   `json:"owner_id"`
	Materialized int      `json:"materialized"`
	Skipped      int      `json:"skipped"`
	Failed       int      `json:"failed"`
	Errors       []string `json:"errors,omitempty"`
}

// Succeeded reports whether every obligation of the owner was handled.
func (r OwnerResult) Succeeded() bool {
	return r.Failed == 0
}

// ProcessingRun records one execution of the materialization scheduler.
type ProcessingRun struct {
	ID           string
	RunDate      time.Time
	Status       RunStatus
	Owners       []OwnerResult
	CatchUpDates []time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
}

// Transition moves the run to the next state.
func (r *ProcessingRun) Transition(to RunStatus, at time.Time) error {
	for _, allowed := range runTransitions[r.Status] {
		if allowed != to {
			continue
		}
		r.Status = to
		switch to {
		case RunRunning:
			r.StartedAt = &at
		case RunCompleted, RunFailed:
			r.FinishedAt = &at
		}
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidRunTransition, r.Status, to)
}

// Finished reports whether the run reached a terminal state.
func (r *ProcessingRun) Finished() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}

// Totals sums the per-owner counters.
func (r *ProcessingRun) Totals() (materialized, skipped, failed int) {
	for _, o := range r.Owners {
		materialized += o.Materialized
		skipped += o.Skipped
		failed += o.Failed
	}
	return materialized, skipped, failed
}

// FailedOwners lists owners with at least one failed obligation.
func (r *ProcessingRun) FailedOwners() []string {
	var owners []string
	for _, o := range r.Owners {
		if !o.Succeeded() {
			owners = append(owners, o.OwnerID)
		}
	}
	return owners
}
