package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/sqlinline"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository using PostgreSQL.
type ArtifactRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewArtifactRepository constructs a new artifact repository instance.
func NewArtifactRepository(sql infra.SQLExecutor) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{sql: sql}
}

// Create inserts one artifact. A second artifact for the same job position is
// rejected with domain.ErrConflict.
func (r *ArtifactRepositoryPG) Create(ctx context.Context, artifact *domain.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertArtifact,
		artifact.ID,
		artifact.JobID,
		artifact.UserID,
		string(artifact.Kind),
		artifact.Position,
		artifact.URL,
		artifact.SourceURL,
		artifact.Prompt,
		artifact.CreatedAt,
		artifact.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ListByJobID returns all artifacts belonging to the job in output order.
func (r *ArtifactRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, nil
	}
	return r.list(ctx, sqlinline.QListArtifactsByJob, jobID)
}

// ListByUser returns the user's gallery, newest first.
func (r *ArtifactRepositoryPG) ListByUser(ctx context.Context, filter domain.GalleryFilter) ([]domain.Artifact, error) {
	return r.list(ctx, sqlinline.QListArtifactsByUser, filter.UserID, string(filter.Kind), filter.Limit, filter.Offset)
}

func (r *ArtifactRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Artifact, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var kind string
		if err := rows.Scan(&a.ID, &a.JobID, &a.UserID, &kind, &a.Position, &a.URL, &a.SourceURL, &a.Prompt, &a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, err
		}
		a.Kind = domain.ArtifactKind(kind)
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return artifacts, nil
}
