package jobs

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/providers/prediction"
)

const submitTimeout = 2 * time.Minute

// Submitter starts provider predictions.
type Submitter interface {
	Submit(ctx context.Context, req prediction.SubmitRequest) (string, error)
}

// Service is the submission entry point: admission, provider submit and the
// resulting pending -> processing|failed transition.
type Service struct {
	admission  *Admission
	machine    *Machine
	provider   Submitter
	webhookURL string
	logger     zerolog.Logger
}

// NewService wires the submission path. webhookBase is the public API base
// URL; the provider is told to call back on /v1/webhooks/prediction.
func NewService(admission *Admission, machine *Machine, provider Submitter, webhookBase string, logger *infra.Logger) *Service {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = infra.Component(*logger, "submission")
	}
	webhookURL := ""
	if base := strings.TrimRight(strings.TrimSpace(webhookBase), "/"); base != "" {
		webhookURL = base + "/v1/webhooks/prediction"
	}
	return &Service{admission: admission, machine: machine, provider: provider, webhookURL: webhookURL, logger: l}
}

// Submit admits and submits a job. Admission errors are returned as is; a
// provider rejection is not an error for the caller and shows up as a failed
// job instead.
func (s *Service) Submit(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	job, err := s.admission.Admit(ctx, in)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Str("job_type", string(job.Type)).Logger()
	logger.Info().Msg("job admitted")

	// The job now holds an admission slot; its outcome is recorded even when
	// the caller goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	predictionID, submitErr := s.provider.Submit(ctx, prediction.SubmitRequest{
		JobID:           job.ID,
		Type:            job.Type,
		Prompt:          job.Prompt,
		InputParameters: job.InputParameters,
		WebhookURL:      s.callbackURL(job.ID),
	})
	if submitErr == nil && strings.TrimSpace(predictionID) == "" {
		submitErr = &domain.SubmissionError{Message: "provider returned no prediction id"}
	}
	if submitErr != nil {
		logger.Warn().Err(submitErr).Msg("provider rejected submission")
		failed, err := s.machine.FailSubmission(ctx, job.ID, submissionReason(submitErr))
		return s.settle(ctx, job, failed, err)
	}

	processing, err := s.machine.MarkProcessing(ctx, job.ID, predictionID)
	return s.settle(ctx, job, processing, err)
}

// settle returns the transitioned job, or the freshest stored copy when the
// transition lost a race (a fast webhook or the sweep got there first).
func (s *Service) settle(ctx context.Context, admitted, transitioned *domain.Job, err error) (*domain.Job, error) {
	if transitioned != nil {
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", transitioned.ID).Msg("job transitioned with incomplete fan-out")
		}
		return transitioned, nil
	}
	if errors.Is(err, domain.ErrConflict) {
		if current, getErr := s.machine.jobs.GetByID(ctx, admitted.ID); getErr == nil {
			return current, nil
		}
	}
	s.logger.Error().Err(err).Str("job_id", admitted.ID).Msg("record submission outcome failed")
	return admitted, nil
}

func (s *Service) callbackURL(jobID string) string {
	if s.webhookURL == "" {
		return ""
	}
	return s.webhookURL + "?job_id=" + url.QueryEscape(jobID)
}

func submissionReason(err error) string {
	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) && subErr.Message != "" {
		return "submission rejected: " + subErr.Message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "submission interrupted before the provider answered"
	}
	return "submission rejected by provider"
}
