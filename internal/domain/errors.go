package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidJobType        = errors.New("invalid job type")
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrQueueFull             = errors.New("queue full")
	ErrSubmissionFailed      = errors.New("submission failed")
	ErrProviderTimeout       = errors.New("provider timeout")
	ErrConflict              = errors.New("status conflict")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrArtifactPersistFailed = errors.New("artifact persist failed")
)

// TimeoutMessage is the reserved error message written by the reconciliation sweep.
const TimeoutMessage = "generation timed out"

// AdmissionScope tells which cap rejected an admission.
type AdmissionScope string

const (
	AdmissionScopeUser   AdmissionScope = "user"
	AdmissionScopeGlobal AdmissionScope = "global"
)

// AdmissionError is returned when a job would exceed a concurrency cap.
type AdmissionError struct {
	Scope  AdmissionScope
	Active int
	Max    int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("queue full: %s active %d of %d", e.Scope, e.Active, e.Max)
}

func (e *AdmissionError) Unwrap() error { return ErrQueueFull }

// SubmissionError describes a provider refusing a prediction request.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("submission failed: status %d: %s", e.StatusCode, e.Message)
	}
	return "submission failed: " + e.Message
}

func (e *SubmissionError) Unwrap() error { return ErrSubmissionFailed }
