// Package jobs drives the generation job lifecycle: admission, state
// transitions, result fan-out and the background reconciliation loops.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
)

const (
	maxErrorMessageLen = 500
	fanOutTimeout      = 5 * time.Minute
)

var transitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusPending:    {domain.JobStatusProcessing, domain.JobStatusFailed},
	domain.JobStatusProcessing: {domain.JobStatusCompleted, domain.JobStatusFailed},
}

// CanTransition reports whether from -> to is an edge of the job lifecycle.
func CanTransition(from, to domain.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FanOut runs the side effects of a terminal transition.
type FanOut interface {
	Run(ctx context.Context, job *domain.Job) error
}

// Machine is the only writer of job status after creation. Every transition is
// a compare-and-swap against the store; fan-out runs in the winner only.
type Machine struct {
	jobs   domain.JobRepository
	fanOut FanOut
	logger infra.Logger
}

func NewMachine(jobs domain.JobRepository, fanOut FanOut, logger *infra.Logger) *Machine {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Machine{jobs: jobs, fanOut: fanOut, logger: infra.Component(l, "state_machine")}
}

// Transition moves jobID from -> patch.Status. Edges outside the lifecycle
// fail with ErrInvalidTransition before the store is touched.
func (m *Machine) Transition(ctx context.Context, jobID string, from domain.JobStatus, patch domain.StatusPatch) (*domain.Job, error) {
	if !CanTransition(from, patch.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, patch.Status)
	}
	if err := checkGuard(patch); err != nil {
		return nil, err
	}

	job, err := m.jobs.UpdateStatus(ctx, jobID, from, patch)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			m.logger.Debug().Str("job_id", jobID).Str("from", string(from)).Str("to", string(patch.Status)).Msg("transition lost compare-and-swap")
		}
		return nil, err
	}
	m.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Str("from", string(from)).Str("status", string(job.Status)).Msg("job transitioned")

	if !job.Status.Terminal() {
		return job, nil
	}
	return job, m.runFanOut(ctx, job)
}

// Repair reruns fan-out for a job that is already terminal. Artifact and
// notification writes are keyed per job, so a rerun only fills gaps.
func (m *Machine) Repair(ctx context.Context, job *domain.Job) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: repair of %s job", domain.ErrInvalidTransition, job.Status)
	}
	return m.runFanOut(ctx, job)
}

// runFanOut ignores cancellation of ctx; the transition has already committed.
func (m *Machine) runFanOut(ctx context.Context, job *domain.Job) error {
	if m.fanOut == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanOutTimeout)
	defer cancel()
	if err := m.fanOut.Run(ctx, job); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("fan-out incomplete")
		return err
	}
	return nil
}

// MarkProcessing records that the provider accepted the submission.
func (m *Machine) MarkProcessing(ctx context.Context, jobID, predictionID string) (*domain.Job, error) {
	return m.Transition(ctx, jobID, domain.JobStatusPending, domain.StatusPatch{
		Status:               domain.JobStatusProcessing,
		ProviderPredictionID: predictionID,
	})
}

// FailSubmission records that the provider rejected the submission.
func (m *Machine) FailSubmission(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	return m.Transition(ctx, jobID, domain.JobStatusPending, domain.StatusPatch{
		Status:       domain.JobStatusFailed,
		ErrorMessage: boundedReason(reason, "submission rejected by provider"),
	})
}

// Complete records provider success. resultData must carry at least one output.
func (m *Machine) Complete(ctx context.Context, jobID string, resultData json.RawMessage) (*domain.Job, error) {
	outputs, err := domain.ParseOutputs(resultData)
	if err != nil {
		return nil, fmt.Errorf("%w: result data: %v", domain.ErrInvalidPayload, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: completion without outputs", domain.ErrInvalidPayload)
	}
	normalized, err := json.Marshal(map[string]any{"output": outputs})
	if err != nil {
		return nil, err
	}
	return m.Transition(ctx, jobID, domain.JobStatusProcessing, domain.StatusPatch{
		Status:     domain.JobStatusCompleted,
		ResultData: normalized,
		OutputURL:  outputs[0],
	})
}

// Fail records a provider-reported failure for a processing job.
func (m *Machine) Fail(ctx context.Context, jobID, reason string) (*domain.Job, error) {
	return m.Transition(ctx, jobID, domain.JobStatusProcessing, domain.StatusPatch{
		Status:       domain.JobStatusFailed,
		ErrorMessage: boundedReason(reason, "generation failed"),
	})
}

// ForceTimeout fails a stale job from whatever active status it was read in.
func (m *Machine) ForceTimeout(ctx context.Context, job domain.Job) (*domain.Job, error) {
	return m.Transition(ctx, job.ID, job.Status, domain.StatusPatch{
		Status:       domain.JobStatusFailed,
		ErrorMessage: domain.TimeoutMessage,
	})
}

func checkGuard(patch domain.StatusPatch) error {
	switch patch.Status {
	case domain.JobStatusProcessing:
		if strings.TrimSpace(patch.ProviderPredictionID) == "" {
			return fmt.Errorf("%w: processing requires a prediction id", domain.ErrInvalidPayload)
		}
	case domain.JobStatusCompleted:
		if len(patch.ResultData) == 0 || patch.OutputURL == "" || patch.ErrorMessage != "" {
			return fmt.Errorf("%w: completion requires result data only", domain.ErrInvalidPayload)
		}
	case domain.JobStatusFailed:
		if patch.ErrorMessage == "" || len(patch.ResultData) > 0 {
			return fmt.Errorf("%w: failure requires an error message only", domain.ErrInvalidPayload)
		}
	}
	return nil
}

func boundedReason(reason, fallback string) string {
	reason = strings.Join(strings.Fields(reason), " ")
	if reason == "" {
		return fallback
	}
	if r := []rune(reason); len(r) > maxErrorMessageLen {
		return string(r[:maxErrorMessageLen-3]) + "..."
	}
	return reason
}
