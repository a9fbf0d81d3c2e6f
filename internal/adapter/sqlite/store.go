// Package sqlite implements the job, artifact and notification repositories on
// an embedded SQLite database. It is used for local development and tests and
// mirrors the PostgreSQL repositories statement for statement.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"genjobs/internal/infra"
)

const schema = `
create table if not exists jobs (
  id text primary key,
  user_id text not null,
  job_type text not null check (job_type in ('image_generation', 'video_generation', 'audio_generation', 'lip_sync')),
  prompt text not null default '',
  input_parameters text not null default '{}',
  locale text not null default 'en',
  status text not null check (status in ('pending', 'processing', 'completed', 'failed')),
  provider_prediction_id text,
  result_data text,
  output_url text,
  error_message text,
  created_at integer not null,
  started_at integer,
  completed_at integer,
  updated_at integer not null,
  check (result_data is null or error_message is null)
);
create index if not exists jobs_status_created_idx on jobs (status, created_at);
create index if not exists jobs_user_created_idx on jobs (user_id, created_at);

create table if not exists artifacts (
  id text primary key,
  job_id text not null references jobs(id),
  user_id text not null,
  kind text not null check (kind in ('image', 'video', 'audio')),
  position integer not null,
  url text not null,
  source_url text,
  prompt text not null default '',
  created_at integer not null,
  expires_at integer not null,
  unique (job_id, position)
);
create index if not exists artifacts_user_created_idx on artifacts (user_id, created_at);

create table if not exists notifications (
  id text primary key,
  user_id text not null,
  job_id text not null references jobs(id),
  kind text not null check (kind in ('job_completed', 'job_failed')),
  message text not null,
  created_at integer not null,
  unique (job_id, kind)
);
create index if not exists notifications_user_created_idx on notifications (user_id, created_at);
`

// Store bundles the repositories sharing one embedded database.
type Store struct {
	DB            *sql.DB
	Jobs          *JobRepository
	Artifacts     *ArtifactRepository
	Notifications *NotificationRepository
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := infra.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{
		DB:            db,
		Jobs:          &JobRepository{db: db},
		Artifacts:     &ArtifactRepository{db: db},
		Notifications: &NotificationRepository{db: db},
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}
