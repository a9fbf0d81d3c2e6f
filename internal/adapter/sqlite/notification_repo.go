package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"genjobs/internal/domain"
)

// NotificationRepository implements domain.NotificationRepository on SQLite.
type NotificationRepository struct {
	db *sql.DB
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
insert into notifications (id, user_id, job_id, kind, message, created_at)
values (?1, ?2, ?3, ?4, ?5, ?6)
on conflict (job_id, kind) do nothing`,
		n.ID, n.UserID, n.JobID, string(n.Kind), n.Message, toUnix(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *NotificationRepository) ListByJobID(ctx context.Context, jobID string) ([]domain.Notification, error) {
	return r.list(ctx, `
select id, user_id, job_id, kind, message, created_at
from notifications where job_id = ?1 order by created_at asc`, jobID)
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return r.list(ctx, `
select id, user_id, job_id, kind, message, created_at
from notifications where user_id = ?1 order by created_at desc limit ?2`, userID, limit)
}

func (r *NotificationRepository) list(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.JobID, &kind, &n.Message, &createdAt); err != nil {
			return nil, err
		}
		n.Kind = domain.NotificationKind(kind)
		n.CreatedAt = fromUnix(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
