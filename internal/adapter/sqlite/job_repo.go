package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"genjobs/internal/domain"
)

const jobColumns = `id, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at`

// JobRepository implements domain.JobRepository on SQLite.
type JobRepository struct {
	db *sql.DB
}

// Create counts active jobs and inserts inside one immediate transaction, so
// no other writer can slip in between the check and the insert.
func (r *JobRepository) Create(ctx context.Context, in domain.NewJob, limits domain.AdmissionLimits) (*domain.Job, error) {
	if !in.Type.Valid() {
		return nil, domain.ErrInvalidJobType
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidPayload)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var counts domain.ActiveCounts
	if err := tx.QueryRowContext(ctx, `
select
  coalesce(sum(case when user_id = ?1 then 1 else 0 end), 0),
  count(*)
from jobs
where status in ('pending', 'processing')`, in.UserID).Scan(&counts.User, &counts.Global); err != nil {
		return nil, fmt.Errorf("sqlite: count active jobs: %w", err)
	}
	if err := checkLimits(counts, limits); err != nil {
		return nil, err
	}

	params := string(in.InputParameters)
	if strings.TrimSpace(params) == "" {
		params = "{}"
	}
	now := toUnix(time.Now())
	row := tx.QueryRowContext(ctx, `
insert into jobs (id, user_id, job_type, prompt, input_parameters, locale, status, created_at, updated_at)
values (?1, ?2, ?3, ?4, ?5, ?6, 'pending', ?7, ?7)
returning `+jobColumns,
		uuid.NewString(), in.UserID, string(in.Type), in.Prompt, params, in.Locale, now)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return job, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `select `+jobColumns+` from jobs where id = ?1`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateStatus applies patch only when the stored status equals expected.
func (r *JobRepository) UpdateStatus(ctx context.Context, jobID string, expected domain.JobStatus, patch domain.StatusPatch) (*domain.Job, error) {
	var result any
	if len(patch.ResultData) > 0 {
		result = string(patch.ResultData)
	}
	now := toUnix(time.Now())
	row := r.db.QueryRowContext(ctx, `
update jobs
set
  status = ?3,
  provider_prediction_id = coalesce(nullif(?4, ''), provider_prediction_id),
  result_data = coalesce(?5, result_data),
  output_url = coalesce(nullif(?6, ''), output_url),
  error_message = coalesce(nullif(?7, ''), error_message),
  started_at = case when ?3 = 'processing' then ?8 else started_at end,
  completed_at = case
    when ?3 in ('completed', 'failed') then max(?8, coalesce(started_at, created_at))
    else completed_at
  end,
  updated_at = ?8
where id = ?1 and status = ?2
returning `+jobColumns,
		jobID, string(expected), string(patch.Status), patch.ProviderPredictionID, result, patch.OutputURL, patch.ErrorMessage, now)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrConflict
}

// CountActive returns the user's and the global number of active jobs.
func (r *JobRepository) CountActive(ctx context.Context, userID string) (domain.ActiveCounts, error) {
	var counts domain.ActiveCounts
	err := r.db.QueryRowContext(ctx, `
select
  coalesce(sum(case when user_id = ?1 then 1 else 0 end), 0),
  count(*)
from jobs
where status in ('pending', 'processing')`, userID).Scan(&counts.User, &counts.Global)
	return counts, err
}

func (r *JobRepository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, `select `+jobColumns+` from jobs
where status in ('pending', 'processing') and created_at < ?1
order by created_at asc limit ?2`, toUnix(createdBefore), limit)
}

func (r *JobRepository) ListPollable(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, `select `+jobColumns+` from jobs
where status = 'processing' and provider_prediction_id is not null and updated_at < ?1
order by updated_at asc limit ?2`, toUnix(updatedBefore), limit)
}

func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Job, error) {
	return r.list(ctx, `select `+jobColumns+` from jobs
where user_id = ?1
order by created_at desc limit ?2 offset ?3`, userID, limit, offset)
}

func (r *JobRepository) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func checkLimits(counts domain.ActiveCounts, limits domain.AdmissionLimits) error {
	if limits.PerUser > 0 && counts.User >= limits.PerUser {
		return &domain.AdmissionError{Scope: domain.AdmissionScopeUser, Active: counts.User, Max: limits.PerUser}
	}
	if limits.Global > 0 && counts.Global >= limits.Global {
		return &domain.AdmissionError{Scope: domain.AdmissionScopeGlobal, Active: counts.Global, Max: limits.Global}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job         domain.Job
		jobType     string
		status      string
		params      sql.NullString
		resultData  sql.NullString
		createdAt   int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		updatedAt   int64
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&jobType,
		&job.Prompt,
		&params,
		&job.Locale,
		&status,
		&job.ProviderPredictionID,
		&resultData,
		&job.OutputURL,
		&job.ErrorMessage,
		&createdAt,
		&startedAt,
		&completedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if params.Valid {
		job.InputParameters = []byte(params.String)
	}
	if resultData.Valid {
		job.ResultData = []byte(resultData.String)
	}
	job.CreatedAt = fromUnix(createdAt)
	job.StartedAt = fromNullUnix(startedAt)
	job.CompletedAt = fromNullUnix(completedAt)
	job.UpdatedAt = fromUnix(updatedAt)
	return &job, nil
}
