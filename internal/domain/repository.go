package domain

import (
	"context"
	"time"
)

// AdmissionLimits caps concurrently active jobs. A zero field disables that cap.
type AdmissionLimits struct {
	PerUser int
	Global  int
}

// ActiveCounts reports jobs currently in pending or processing.
type ActiveCounts struct {
	User   int
	Global int
}

// JobRepository persists jobs. UpdateStatus is the only mutation path after
// creation and applies only when the stored status equals expected.
type JobRepository interface {
	Create(ctx context.Context, in NewJob, limits AdmissionLimits) (*Job, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, expected JobStatus, patch StatusPatch) (*Job, error)
	CountActive(ctx context.Context, userID string) (ActiveCounts, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]Job, error)
	ListPollable(ctx context.Context, updatedBefore time.Time, limit int) ([]Job, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error)
}

// ArtifactRepository handles persistence for generated artifacts.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact *Artifact) error
	ListByJobID(ctx context.Context, jobID string) ([]Artifact, error)
	ListByUser(ctx context.Context, filter GalleryFilter) ([]Artifact, error)
}

// NotificationRepository handles persistence for user notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification *Notification) error
	ListByJobID(ctx context.Context, jobID string) ([]Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error)
}
