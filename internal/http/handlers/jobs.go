package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"genjobs/internal/domain"
	"genjobs/internal/middleware"
)

const maxPromptLen = 4000

type createJobRequest struct {
	JobType         string          `json:"jobType"`
	Prompt          string          `json:"prompt"`
	InputParameters json.RawMessage `json:"inputParameters"`
}

type createJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type jobView struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"userId"`
	JobType              string          `json:"jobType"`
	Prompt               string          `json:"prompt"`
	InputParameters      json.RawMessage `json:"inputParameters,omitempty"`
	Status               string          `json:"status"`
	ProviderPredictionID string          `json:"providerPredictionId,omitempty"`
	ResultData           json.RawMessage `json:"resultData,omitempty"`
	OutputURL            string          `json:"outputUrl,omitempty"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	StartedAt            *time.Time      `json:"startedAt,omitempty"`
	CompletedAt          *time.Time      `json:"completedAt,omitempty"`
}

func newJobView(j domain.Job) jobView {
	return jobView{
		ID:                   j.ID,
		UserID:               j.UserID,
		JobType:              string(j.Type),
		Prompt:               j.Prompt,
		InputParameters:      j.InputParameters,
		Status:               string(j.Status),
		ProviderPredictionID: j.ProviderPredictionID,
		ResultData:           j.ResultData,
		OutputURL:            j.OutputURL,
		ErrorMessage:         j.ErrorMessage,
		CreatedAt:            j.CreatedAt,
		StartedAt:            j.StartedAt,
		CompletedAt:          j.CompletedAt,
	}
}

// CreateJob admits and submits a generation job.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobType, err := domain.ParseJobType(req.JobType)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if len([]rune(prompt)) > maxPromptLen {
		a.error(w, http.StatusBadRequest, "invalid_payload", "prompt too long")
		return
	}
	params := bytes.TrimSpace(req.InputParameters)
	if len(params) > 0 && !bytes.Equal(params, []byte("null")) {
		if params[0] != '{' || !json.Valid(params) {
			a.error(w, http.StatusBadRequest, "invalid_payload", "inputParameters must be an object")
			return
		}
	} else {
		params = nil
	}

	job, err := a.Submissions.Submit(r.Context(), domain.NewJob{
		UserID:          userID,
		Type:            jobType,
		Prompt:          prompt,
		InputParameters: params,
		Locale:          middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, createJobResponse{JobID: job.ID, Status: string(job.Status)})
}

// GetJob returns one of the caller's jobs.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err == nil && job.UserID != userID {
		err = domain.ErrNotFound
	}
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newJobView(*job))
}

// ListJobs returns the caller's job history, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, offset := pageParams(r, 20, 100)
	list, err := a.Jobs.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	items := make([]jobView, 0, len(list))
	for _, j := range list {
		items = append(items, newJobView(j))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

// QueueStatus reports the caller's active jobs against the cap.
func (a *App) QueueStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	status, err := a.Admission.Status(r.Context(), userID)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, status)
}
