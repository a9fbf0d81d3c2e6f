package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/sqlinline"
)

// NotificationRepositoryPG implements domain.NotificationRepository using PostgreSQL.
type NotificationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewNotificationRepository constructs a new notification repository instance.
func NewNotificationRepository(sql infra.SQLExecutor) *NotificationRepositoryPG {
	return &NotificationRepositoryPG{sql: sql}
}

// Create inserts a notification; a job can hold at most one notification per kind.
func (r *NotificationRepositoryPG) Create(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertNotification, n.ID, n.UserID, n.JobID, string(n.Kind), n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *NotificationRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Notification, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, nil
	}
	return r.list(ctx, sqlinline.QListNotificationsByJob, jobID)
}

func (r *NotificationRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return r.list(ctx, sqlinline.QListNotificationsByUser, userID, limit)
}

func (r *NotificationRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.UserID, &n.JobID, &kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = domain.NotificationKind(kind)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
