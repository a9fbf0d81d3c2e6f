package jobs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/providers/prediction"
)

const defaultBatchSize = 100

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
}

// Reconciler force-fails jobs that stayed active past the staleness window.
type Reconciler struct {
	jobs       domain.JobRepository
	machine    *Machine
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
	logger     zerolog.Logger
}

func NewReconciler(jobs domain.JobRepository, machine *Machine, staleAfter time.Duration, logger *infra.Logger) *Reconciler {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = infra.Component(*logger, "reconciler")
	}
	return &Reconciler{
		jobs:       jobs,
		machine:    machine,
		staleAfter: staleAfter,
		batchSize:  defaultBatchSize,
		now:        time.Now,
		logger:     l,
	}
}

// Sweep runs one pass. A CAS conflict means a provider signal won the race
// and is counted, not reported.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.jobs.ListStale(ctx, cutoff, r.batchSize)
	if err != nil {
		return result, err
	}
	for _, job := range stale {
		result.Scanned++
		failed, err := r.machine.ForceTimeout(ctx, job)
		switch {
		case failed != nil:
			result.Failed++
			r.logger.Warn().Str("job_id", job.ID).Str("user_id", job.UserID).Str("from", string(job.Status)).Msg("stale job timed out")
		case errors.Is(err, domain.ErrConflict):
			result.Conflicts++
		default:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			r.logger.Error().Err(err).Str("job_id", job.ID).Msg("force timeout failed")
		}
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, func() {
		res, err := r.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("sweep failed")
			}
			return
		}
		if res.Scanned > 0 {
			r.logger.Info().Int("scanned", res.Scanned).Int("failed", res.Failed).Int("conflicts", res.Conflicts).Msg("sweep finished")
		}
	})
}

// PredictionGetter reads provider-side prediction state.
type PredictionGetter interface {
	Get(ctx context.Context, predictionID string) (*prediction.Prediction, error)
}

// Poller asks the provider about processing jobs that have not heard back,
// covering lost webhook deliveries.
type Poller struct {
	jobs      domain.JobRepository
	ingress   *Ingress
	provider  PredictionGetter
	quietFor  time.Duration
	batchSize int
	now       func() time.Time
	logger    zerolog.Logger
}

func NewPoller(jobs domain.JobRepository, ingress *Ingress, provider PredictionGetter, quietFor time.Duration, logger *infra.Logger) *Poller {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = infra.Component(*logger, "poller")
	}
	return &Poller{
		jobs:      jobs,
		ingress:   ingress,
		provider:  provider,
		quietFor:  quietFor,
		batchSize: defaultBatchSize,
		now:       time.Now,
		logger:    l,
	}
}

// Poll checks one batch and returns how many jobs reached a terminal state.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	pending, err := p.jobs.ListPollable(ctx, p.now().Add(-p.quietFor), p.batchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, job := range pending {
		pred, err := p.provider.Get(ctx, job.ProviderPredictionID)
		if err != nil {
			if ctx.Err() != nil {
				return settled, ctx.Err()
			}
			p.logger.Warn().Err(err).Str("job_id", job.ID).Str("prediction_id", job.ProviderPredictionID).Msg("poll prediction failed")
			continue
		}
		if !pred.Terminal() {
			continue
		}
		signal := Signal{JobID: job.ID, ResultData: pred.ResultData(), ErrorMessage: pred.Error}
		if pred.Status == prediction.StatusSucceeded {
			signal.Status = domain.JobStatusCompleted
		} else {
			signal.Status = domain.JobStatusFailed
			if signal.ErrorMessage == "" {
				signal.ErrorMessage = "prediction " + pred.Status
			}
		}
		outcome, err := p.ingress.Apply(ctx, signal)
		if err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("apply polled result failed")
			continue
		}
		if outcome == OutcomeApplied || outcome == OutcomePartial {
			settled++
		}
	}
	return settled, nil
}

// Run polls every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, func() {
		n, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error().Err(err).Msg("poll failed")
			}
			return
		}
		if n > 0 {
			p.logger.Info().Int("settled", n).Msg("poll finished")
		}
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}
