package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/notify"
)

// Mirror copies a provider output into durable storage.
type Mirror interface {
	Copy(ctx context.Context, jobID string, kind domain.ArtifactKind, position int, sourceURL string) (string, error)
}

// ResultFanOut persists artifacts and the notification of a terminal job.
type ResultFanOut struct {
	Artifacts     domain.ArtifactRepository
	Notifications domain.NotificationRepository
	Renderer      *notify.Renderer
	Publisher     notify.Publisher
	Mirror        Mirror
	Retention     time.Duration
	Logger        *infra.Logger

	now func() time.Time
}

// Run writes one artifact per output of a completed job, then one
// notification. Artifact failures do not stop the notification and are
// reported as ErrArtifactPersistFailed.
func (f *ResultFanOut) Run(ctx context.Context, job *domain.Job) error {
	logger := f.logger().With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()
	now := f.clock()

	var persistErr error
	if job.Status == domain.JobStatusCompleted {
		persistErr = f.persistArtifacts(ctx, logger, job, now)
	}

	renderer := f.Renderer
	if renderer == nil {
		renderer = notify.NewRenderer()
	}
	kind, msg := renderer.Render(*job)
	n := &domain.Notification{
		UserID:    job.UserID,
		JobID:     job.ID,
		Kind:      kind,
		Message:   msg,
		CreatedAt: now,
	}
	switch err := f.Notifications.Create(ctx, n); {
	case errors.Is(err, domain.ErrConflict):
		logger.Debug().Str("kind", string(kind)).Msg("notification already recorded")
	case err != nil:
		logger.Error().Err(err).Msg("persist notification failed")
		return errors.Join(persistErr, fmt.Errorf("persist notification: %w", err))
	default:
		if f.Publisher != nil {
			if err := f.Publisher.Publish(ctx, *n); err != nil {
				logger.Warn().Err(err).Msg("publish notification failed")
			}
		}
	}
	return persistErr
}

func (f *ResultFanOut) persistArtifacts(ctx context.Context, logger zerolog.Logger, job *domain.Job, now time.Time) error {
	outputs := job.Outputs()
	kind := job.Type.ArtifactKind()
	recorded := map[int]bool{}
	existing, err := f.Artifacts.ListByJobID(ctx, job.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("list recorded artifacts failed")
	}
	for _, a := range existing {
		recorded[a.Position] = true
	}
	failed := 0
	for i, output := range outputs {
		if recorded[i] {
			continue
		}
		artifact := &domain.Artifact{
			JobID:     job.ID,
			UserID:    job.UserID,
			Kind:      kind,
			Position:  i,
			URL:       output,
			Prompt:    job.Prompt,
			CreatedAt: now,
			ExpiresAt: now.Add(f.Retention),
		}
		if f.Mirror != nil {
			durable, err := f.Mirror.Copy(ctx, job.ID, kind, i, output)
			if err != nil {
				logger.Warn().Err(err).Int("position", i).Msg("mirror output failed, keeping provider url")
			} else {
				artifact.URL = durable
				artifact.SourceURL = output
			}
		}
		err := f.Artifacts.Create(ctx, artifact)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrConflict):
			logger.Warn().Int("position", i).Msg("artifact already recorded")
		default:
			failed++
			logger.Error().Err(err).Int("position", i).Msg("persist artifact failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d outputs", domain.ErrArtifactPersistFailed, failed, len(outputs))
	}
	if len(existing) < len(outputs) {
		logger.Info().Int("artifacts", len(outputs)).Str("kind", string(kind)).Msg("artifacts recorded")
	}
	return nil
}

func (f *ResultFanOut) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

func (f *ResultFanOut) logger() zerolog.Logger {
	if f.Logger == nil {
		return zerolog.New(io.Discard)
	}
	return infra.Component(*f.Logger, "fan_out")
}
