package domain

import "time"

// NotificationKind enumerates notification categories.
type NotificationKind string

const (
	NotificationJobCompleted NotificationKind = "job_completed"
	NotificationJobFailed    NotificationKind = "job_failed"
)

// Notification tells a user that one of their jobs reached a terminal state.
type Notification struct {
	ID        string
	UserID    string
	JobID     string
	Kind      NotificationKind
	Message   string
	CreatedAt time.Time
}
