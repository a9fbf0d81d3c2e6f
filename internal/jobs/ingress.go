package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"genjobs/internal/domain"
)

// Outcome describes what an ingress signal did to a job.
type Outcome int

const (
	// OutcomeApplied means this signal won the transition and fan-out ran.
	OutcomeApplied Outcome = iota
	// OutcomePartial means the job is terminal but some artifacts or the
	// notification are still missing.
	OutcomePartial
	// OutcomeDuplicate means the job was already terminal; its fan-out was
	// rerun to fill any gaps and the status did not change.
	OutcomeDuplicate
	// OutcomeTooEarly means the job is still pending; the sender should retry.
	OutcomeTooEarly
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomePartial:
		return "partial"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeTooEarly:
		return "too_early"
	}
	return "unknown"
}

// Signal is a completion report from the provider, by webhook or by polling.
type Signal struct {
	JobID        string
	Status       domain.JobStatus
	ResultData   json.RawMessage
	ErrorMessage string
}

// Ingress turns provider signals into state machine transitions.
type Ingress struct {
	jobs    domain.JobRepository
	machine *Machine
}

func NewIngress(jobs domain.JobRepository, machine *Machine) *Ingress {
	return &Ingress{jobs: jobs, machine: machine}
}

// Apply validates s and drives the matching transition. A redelivered signal
// for a terminal job reruns its fan-out and is reported as OutcomeDuplicate,
// or OutcomePartial while gaps remain; it is never an error.
func (i *Ingress) Apply(ctx context.Context, s Signal) (Outcome, error) {
	switch s.Status {
	case domain.JobStatusCompleted:
		if s.ErrorMessage != "" {
			return 0, fmt.Errorf("%w: completed signal carries an error message", domain.ErrInvalidPayload)
		}
		outputs, err := domain.ParseOutputs(s.ResultData)
		if err != nil || len(outputs) == 0 {
			return 0, fmt.Errorf("%w: completed signal needs at least one output", domain.ErrInvalidPayload)
		}
	case domain.JobStatusFailed:
		if len(s.ResultData) > 0 && string(s.ResultData) != "null" {
			return 0, fmt.Errorf("%w: failed signal carries result data", domain.ErrInvalidPayload)
		}
	default:
		return 0, fmt.Errorf("%w: unsupported status %q", domain.ErrInvalidPayload, s.Status)
	}

	job, err := i.jobs.GetByID(ctx, s.JobID)
	if err != nil {
		return 0, err
	}
	switch {
	case job.Status.Terminal():
		if err := i.machine.Repair(ctx, job); err != nil {
			return OutcomePartial, nil
		}
		return OutcomeDuplicate, nil
	case job.Status == domain.JobStatusPending:
		return OutcomeTooEarly, nil
	}

	var updated *domain.Job
	if s.Status == domain.JobStatusCompleted {
		updated, err = i.machine.Complete(ctx, job.ID, s.ResultData)
	} else {
		updated, err = i.machine.Fail(ctx, job.ID, s.ErrorMessage)
	}
	switch {
	case err == nil:
		return OutcomeApplied, nil
	case updated != nil:
		// The transition committed; only fan-out side effects are missing.
		return OutcomePartial, nil
	case errors.Is(err, domain.ErrConflict):
		return OutcomeDuplicate, nil
	}
	return 0, err
}
