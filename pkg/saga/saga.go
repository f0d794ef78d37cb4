// Package saga runs a short sequence of storage operations and undoes the
// completed ones when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
)

// Step is one operation of a saga. Compensate is optional.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports the step that failed and the outcome of the rollback.
type StepError struct {
	Saga  string
	Step  string
	Index int
	Err   error
	// CompensateErr joins every compensation failure, nil when the rollback
	// went through.
	CompensateErr error
}

func (e *StepError) Error() string {
	if e.CompensateErr != nil {
		return fmt.Sprintf("saga %s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensateErr)
	}
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.CompensateErr != nil {
		return []error{e.Err, e.CompensateErr}
	}
	return []error{e.Err}
}

// Saga is an ordered list of steps.
type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute runs the steps in order. On the first failure the steps that
// already completed are compensated in reverse order and a *StepError is
// returned. Compensation ignores cancellation of ctx.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			return &StepError{
				Saga:          s.name,
				Step:          step.Name,
				Index:         i,
				Err:           err,
				CompensateErr: s.compensate(context.WithoutCancel(ctx), i),
			}
		}
	}
	return nil
}

// compensate undoes steps [0, failed) last first.
func (s *Saga) compensate(ctx context.Context, failed int) error {
	var errs []error
	for i := failed - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate step %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
