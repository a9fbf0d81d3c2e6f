package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"genjobs/internal/domain"
)

// ArtifactRepository implements domain.ArtifactRepository on SQLite.
type ArtifactRepository struct {
	db *sql.DB
}

func (r *ArtifactRepository) Create(ctx context.Context, a *domain.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
insert into artifacts (id, job_id, user_id, kind, position, url, source_url, prompt, created_at, expires_at)
values (?1, ?2, ?3, ?4, ?5, ?6, nullif(?7, ''), ?8, ?9, ?10)
on conflict (job_id, position) do nothing`,
		a.ID, a.JobID, a.UserID, string(a.Kind), a.Position, a.URL, a.SourceURL, a.Prompt, toUnix(a.CreatedAt), toUnix(a.ExpiresAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert artifact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *ArtifactRepository) ListByJobID(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	return r.list(ctx, `
select id, job_id, user_id, kind, position, url, coalesce(source_url, ''), prompt, created_at, expires_at
from artifacts where job_id = ?1 order by position asc`, jobID)
}

func (r *ArtifactRepository) ListByUser(ctx context.Context, f domain.GalleryFilter) ([]domain.Artifact, error) {
	return r.list(ctx, `
select id, job_id, user_id, kind, position, url, coalesce(source_url, ''), prompt, created_at, expires_at
from artifacts
where user_id = ?1 and (?2 = '' or kind = ?2)
order by created_at desc, position asc
limit ?3 offset ?4`, f.UserID, string(f.Kind), f.Limit, f.Offset)
}

func (r *ArtifactRepository) list(ctx context.Context, query string, args ...any) ([]domain.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var (
			a         domain.Artifact
			kind      string
			createdAt int64
			expiresAt int64
		)
		if err := rows.Scan(&a.ID, &a.JobID, &a.UserID, &kind, &a.Position, &a.URL, &a.SourceURL, &a.Prompt, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		a.Kind = domain.ArtifactKind(kind)
		a.CreatedAt = fromUnix(createdAt)
		a.ExpiresAt = fromUnix(expiresAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
