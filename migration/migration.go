// Package migration implements the resumable migration protocol and the
// planners that replicate EC2 instances, RDS databases, and VPC topologies
// into another account. Planners describe their work as an ordered list of
// steps; the executor runs them against the state store so an interrupted
// migration picks up where it left off instead of repeating control plane
// calls.
package migration

import (
	"context"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover/state"
)

// Step is one unit of migration work. Run performs the side effects and
// returns the data to cache for later steps and later invocations. Validate,
// when set, checks that a prior invocation's cached data still refers to a
// live resource; a false result demotes the step and reruns it.
type Step struct {
	Name        string
	Description string
	Run         func(ctx context.Context) (map[string]interface{}, error)
	Validate    func(ctx context.Context, data map[string]interface{}) (bool, error)
}

// StepOutcome reports what happened to a single step.
type StepOutcome struct {
	StepName  string
	Status    state.Status
	Data      map[string]interface{}
	Reused    bool
	Remaining int
}

// HaltedError is returned when a step failure stops a migration. The record
// keeps the failed step so a later invocation resumes from it.
type HaltedError struct {
	Step string
	Err  error
}

func (e *HaltedError) Error() string {
	return errors.Wrapf(e.Err, "step '%s'", e.Step).Error()
}

// Cause returns the step's failure.
func (e *HaltedError) Cause() error { return e.Err }

func (e *HaltedError) Unwrap() error { return e.Err }

// IsHalted reports whether err is a migration halt.
func IsHalted(err error) bool {
	if err == nil {
		return false
	}
	var halted *HaltedError
	return errors.As(err, &halted)
}

// Executor drives an ordered step list through the store's idempotency
// protocol for one migration.
type Executor struct {
	store       *state.Manager
	migrationID string
	steps       []Step
}

// NewExecutor returns an executor for an already-initialized migration.
func NewExecutor(store *state.Manager, migrationID string, steps []Step) *Executor {
	return &Executor{store: store, migrationID: migrationID, steps: steps}
}

// MigrationID returns the migration this executor drives.
func (e *Executor) MigrationID() string { return e.migrationID }

// Run executes every step in order, reusing completed work, and marks the
// migration COMPLETED. The first step failure marks both the step and the
// migration FAILED and halts; a later invocation resumes from that step.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.store.UpdateMigrationStatus(e.migrationID, state.StatusInProgress, ""); err != nil {
		return err
	}

	for _, step := range e.steps {
		if _, err := e.runStep(ctx, step); err != nil {
			return e.failMigration(step, err)
		}
	}

	return e.store.UpdateMigrationStatus(e.migrationID, state.StatusCompleted, "")
}

// RunNext executes exactly one incomplete step and reports the outcome,
// including how many steps remain after it. When every step is already
// complete it marks the migration COMPLETED and reports zero remaining.
func (e *Executor) RunNext(ctx context.Context) (StepOutcome, error) {
	if err := e.store.UpdateMigrationStatus(e.migrationID, state.StatusInProgress, ""); err != nil {
		return StepOutcome{}, err
	}

	for i, step := range e.steps {
		reusable, err := e.reusable(ctx, step)
		if err != nil {
			return StepOutcome{}, e.failMigration(step, err)
		}
		if reusable {
			continue
		}

		outcome, err := e.runStep(ctx, step)
		if err != nil {
			return StepOutcome{}, e.failMigration(step, err)
		}
		outcome.Remaining = e.remainingAfter(i)
		if outcome.Remaining == 0 {
			if err := e.store.UpdateMigrationStatus(e.migrationID, state.StatusCompleted, ""); err != nil {
				return StepOutcome{}, err
			}
		}
		return outcome, nil
	}

	if err := e.store.UpdateMigrationStatus(e.migrationID, state.StatusCompleted, ""); err != nil {
		return StepOutcome{}, err
	}
	return StepOutcome{Status: state.StatusCompleted, Remaining: 0}, nil
}

func (e *Executor) remainingAfter(index int) int {
	remaining := 0
	for _, step := range e.steps[index+1:] {
		if !e.store.IsStepCompleted(e.migrationID, step.Name) {
			remaining++
		}
	}
	return remaining
}

// reusable reports whether a step's cached result can stand in for running
// it. A completed step whose validator rejects the cache is demoted here.
func (e *Executor) reusable(ctx context.Context, step Step) (bool, error) {
	if !e.store.IsStepCompleted(e.migrationID, step.Name) {
		return false, nil
	}
	if step.Validate == nil {
		return true, nil
	}

	valid, err := step.Validate(ctx, e.store.GetStepData(e.migrationID, step.Name))
	if err != nil {
		return false, errors.Wrapf(err, "validating cached result of step '%s'", step.Name)
	}
	if valid {
		return true, nil
	}

	grip.Warning(message.Fields{
		"message":   "cached step result no longer valid, re-executing",
		"migration": e.migrationID,
		"step":      step.Name,
	})
	if err := e.store.ResetStep(e.migrationID, step.Name); err != nil {
		return false, err
	}
	return false, nil
}

func (e *Executor) runStep(ctx context.Context, step Step) (StepOutcome, error) {
	if err := e.store.AddStep(e.migrationID, step.Name, step.Description); err != nil {
		return StepOutcome{}, err
	}

	reusable, err := e.reusable(ctx, step)
	if err != nil {
		return StepOutcome{}, err
	}
	if reusable {
		grip.Info(message.Fields{
			"message":   "reusing completed step",
			"migration": e.migrationID,
			"step":      step.Name,
		})
		return StepOutcome{
			StepName: step.Name,
			Status:   state.StatusCompleted,
			Data:     e.store.GetStepData(e.migrationID, step.Name),
			Reused:   true,
		}, nil
	}

	grip.Info(message.Fields{
		"message":   "executing step",
		"migration": e.migrationID,
		"step":      step.Name,
	})
	if err := e.store.UpdateStepStatus(e.migrationID, step.Name, state.StatusInProgress, nil, ""); err != nil {
		return StepOutcome{}, err
	}

	data, err := step.Run(ctx)
	if err != nil {
		if updateErr := e.store.UpdateStepStatus(e.migrationID, step.Name, state.StatusFailed, nil, err.Error()); updateErr != nil {
			grip.Error(message.WrapError(updateErr, message.Fields{
				"message":   "could not record step failure",
				"migration": e.migrationID,
				"step":      step.Name,
			}))
		}
		return StepOutcome{}, err
	}

	if err := e.store.UpdateStepStatus(e.migrationID, step.Name, state.StatusCompleted, data, ""); err != nil {
		return StepOutcome{}, err
	}
	return StepOutcome{
		StepName: step.Name,
		Status:   state.StatusCompleted,
		Data:     e.store.GetStepData(e.migrationID, step.Name),
	}, nil
}

func (e *Executor) failMigration(step Step, stepErr error) error {
	halted := &HaltedError{Step: step.Name, Err: stepErr}
	if err := e.store.UpdateMigrationStatus(e.migrationID, state.StatusFailed, halted.Error()); err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message":   "could not record migration failure",
			"migration": e.migrationID,
		}))
	}
	return halted
}
