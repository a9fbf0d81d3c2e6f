package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/jobs"
	"genjobs/internal/middleware"
)

// App holds the dependencies shared by all HTTP handlers.
type App struct {
	Jobs          domain.JobRepository
	Artifacts     domain.ArtifactRepository
	Notifications domain.NotificationRepository
	Admission     *jobs.Admission
	Submissions   *jobs.Service
	Ingress       *jobs.Ingress
	WebhookSecret string
	// Ping reports store health for /v1/healthz. Optional.
	Ping func(ctx context.Context) error
	// Logger may be the zero value, which discards.
	Logger infra.Logger

	now func() time.Time
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Scope      string `json:"scope,omitempty"`
	ActiveJobs *int   `json:"activeJobs,omitempty"`
	MaxAllowed *int   `json:"maxAllowed,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// Error renders the standard error envelope; middleware uses it for auth failures.
func (a *App) Error(w http.ResponseWriter, status int, code, message string) {
	a.error(w, status, code, message)
}

// domainError maps domain errors onto HTTP responses.
func (a *App) domainError(w http.ResponseWriter, r *http.Request, err error) {
	var admission *domain.AdmissionError
	switch {
	case errors.As(err, &admission):
		active, limit := admission.Active, admission.Max
		a.json(w, http.StatusTooManyRequests, map[string]errorBody{"error": {
			Code:       "queue_full",
			Message:    admission.Error(),
			Scope:      string(admission.Scope),
			ActiveJobs: &active,
			MaxAllowed: &limit,
		}})
	case errors.Is(err, domain.ErrInvalidJobType):
		a.error(w, http.StatusBadRequest, "invalid_job_type", err.Error())
	case errors.Is(err, domain.ErrInvalidPayload):
		a.error(w, http.StatusBadRequest, "invalid_payload", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
	default:
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func pageParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
