package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.TxRunner
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.TxRunner) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create admits and inserts a job inside one transaction. The advisory lock
// makes concurrent admissions observe each other's inserts before counting.
func (r *JobRepositoryPG) Create(ctx context.Context, in domain.NewJob, limits domain.AdmissionLimits) (*domain.Job, error) {
	if !in.Type.Valid() {
		return nil, domain.ErrInvalidJobType
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidPayload)
	}

	var job *domain.Job
	err := r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QLockJobAdmission, sqlinline.JobAdmissionLockKey); err != nil {
			return fmt.Errorf("lock admission: %w", err)
		}
		var counts domain.ActiveCounts
		if err := tx.QueryRow(ctx, sqlinline.QCountActiveJobs, in.UserID).Scan(&counts.User, &counts.Global); err != nil {
			return fmt.Errorf("count active jobs: %w", err)
		}
		if err := checkLimits(counts, limits); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, sqlinline.QInsertJob,
			uuid.NewString(),
			in.UserID,
			string(in.Type),
			in.Prompt,
			nullableBytes(in.InputParameters),
			in.Locale,
		)
		inserted, err := scanJob(row)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		job = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateStatus is a compare-and-swap on the status column. When no row
// matches, the job is re-read to tell a missing job from a lost race.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, expected domain.JobStatus, patch domain.StatusPatch) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.sql.QueryRow(ctx, sqlinline.QCompareAndSwapJobStatus,
		jobID,
		string(expected),
		string(patch.Status),
		patch.ProviderPredictionID,
		nullableBytes(patch.ResultData),
		patch.OutputURL,
		patch.ErrorMessage,
	)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrConflict
}

// CountActive returns the user's and the global number of active jobs.
func (r *JobRepositoryPG) CountActive(ctx context.Context, userID string) (domain.ActiveCounts, error) {
	var counts domain.ActiveCounts
	err := r.sql.QueryRow(ctx, sqlinline.QCountActiveJobs, userID).Scan(&counts.User, &counts.Global)
	return counts, err
}

// ListStale returns active jobs created before the cutoff, oldest first.
func (r *JobRepositoryPG) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListStaleJobs, createdBefore, limit)
}

// ListPollable returns processing jobs that have not changed since updatedBefore.
func (r *JobRepositoryPG) ListPollable(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListPollableJobs, updatedBefore, limit)
}

// ListByUser returns the user's job history, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QListJobsByUser, userID, limit, offset)
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, query, args...)
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
		job        domain.Job
		jobType    string
		status     string
		params     []byte
		resultData []byte
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
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.InputParameters = params
	job.ResultData = resultData
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
