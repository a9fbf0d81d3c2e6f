package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeImageGeneration JobType = "image_generation"
	JobTypeVideoGeneration JobType = "video_generation"
	JobTypeAudioGeneration JobType = "audio_generation"
	JobTypeLipSync         JobType = "lip_sync"
)

// JobTypes lists every accepted job type in a stable order.
var JobTypes = []JobType{
	JobTypeImageGeneration,
	JobTypeVideoGeneration,
	JobTypeAudioGeneration,
	JobTypeLipSync,
}

// Valid reports whether t belongs to the closed set of job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeImageGeneration, JobTypeVideoGeneration, JobTypeAudioGeneration, JobTypeLipSync:
		return true
	}
	return false
}

// ArtifactKind returns the media type produced by jobs of this type.
func (t JobType) ArtifactKind() ArtifactKind {
	switch t {
	case JobTypeVideoGeneration, JobTypeLipSync:
		return ArtifactKindVideo
	case JobTypeAudioGeneration:
		return ArtifactKindAudio
	default:
		return ArtifactKindImage
	}
}

// ParseJobType normalizes raw input and rejects anything outside the closed set.
func ParseJobType(raw string) (JobType, error) {
	t := JobType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", ErrInvalidJobType
	}
	return t, nil
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the job still occupies an admission slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates the lifecycle of a single generation request.
type Job struct {
	ID                   string
	UserID               string
	Type                 JobType
	Prompt               string
	InputParameters      json.RawMessage
	Locale               string
	Status               JobStatus
	ProviderPredictionID string
	ResultData           json.RawMessage
	OutputURL            string
	ErrorMessage         string
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	UpdatedAt            time.Time
}

// Outputs returns the output URLs carried by the job's result data.
func (j Job) Outputs() []string {
	outputs, _ := ParseOutputs(j.ResultData)
	return outputs
}

// NewJob is the caller-supplied part of a job; everything else is owned by the store.
type NewJob struct {
	UserID          string
	Type            JobType
	Prompt          string
	InputParameters json.RawMessage
	Locale          string
}

// StatusPatch carries the fields written together with a status change.
type StatusPatch struct {
	Status               JobStatus
	ProviderPredictionID string
	ResultData           json.RawMessage
	OutputURL            string
	ErrorMessage         string
}

// ParseOutputs extracts output URLs from a result payload. Providers return
// either a single string or a list under the "output" key.
func ParseOutputs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var envelope struct {
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Output) == 0 || string(envelope.Output) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(envelope.Output, &single); err == nil {
		single = strings.TrimSpace(single)
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(envelope.Output, &many); err != nil {
		return nil, err
	}
	outputs := make([]string, 0, len(many))
	for _, item := range many {
		if item = strings.TrimSpace(item); item != "" {
			outputs = append(outputs, item)
		}
	}
	return outputs, nil
}
