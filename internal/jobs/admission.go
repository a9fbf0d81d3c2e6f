package jobs

import (
	"context"
	"fmt"
	"strings"

	"genjobs/internal/domain"
)

// Decision is the outcome of an admission preview.
type Decision struct {
	Accepted      bool
	CurrentActive int
	MaxAllowed    int
	Reason        domain.AdmissionScope
}

// QueueStatus is the read-only view of a user's queue.
type QueueStatus struct {
	ActiveJobs int `json:"activeJobs"`
	MaxAllowed int `json:"maxAllowed"`
	Available  int `json:"available"`
}

// Admission enforces the per-user and global active job caps. The enforcing
// check happens inside the store's Create transaction; TryAdmit and Status
// are advisory reads.
type Admission struct {
	jobs   domain.JobRepository
	limits domain.AdmissionLimits
}

func NewAdmission(jobs domain.JobRepository, limits domain.AdmissionLimits) *Admission {
	return &Admission{jobs: jobs, limits: limits}
}

// Limits returns the configured caps.
func (a *Admission) Limits() domain.AdmissionLimits {
	return a.limits
}

// TryAdmit previews whether a submission by userID would be accepted now.
func (a *Admission) TryAdmit(ctx context.Context, userID string) (Decision, error) {
	counts, err := a.jobs.CountActive(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("count active jobs: %w", err)
	}
	d := Decision{Accepted: true, CurrentActive: counts.User, MaxAllowed: a.limits.PerUser}
	switch {
	case a.limits.PerUser > 0 && counts.User >= a.limits.PerUser:
		d.Accepted = false
		d.Reason = domain.AdmissionScopeUser
	case a.limits.Global > 0 && counts.Global >= a.limits.Global:
		d.Accepted = false
		d.Reason = domain.AdmissionScopeGlobal
		d.CurrentActive = counts.Global
		d.MaxAllowed = a.limits.Global
	}
	return d, nil
}

// Admit atomically checks the caps and inserts the job as pending.
func (a *Admission) Admit(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidPayload)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidJobType, in.Type)
	}
	return a.jobs.Create(ctx, in, a.limits)
}

// Status reports the user's active jobs against the per-user cap, also
// bounded by the remaining global capacity.
func (a *Admission) Status(ctx context.Context, userID string) (QueueStatus, error) {
	counts, err := a.jobs.CountActive(ctx, userID)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("count active jobs: %w", err)
	}
	s := QueueStatus{ActiveJobs: counts.User, MaxAllowed: a.limits.PerUser}
	available := -1
	if a.limits.PerUser > 0 {
		available = max(a.limits.PerUser-counts.User, 0)
	}
	if a.limits.Global > 0 {
		globalLeft := max(a.limits.Global-counts.Global, 0)
		if available < 0 || globalLeft < available {
			available = globalLeft
		}
	}
	if available < 0 {
		available = 0
	}
	s.Available = available
	return s, nil
}
