package domain

import "time"

// ArtifactKind enumerates persisted media types.
type ArtifactKind string

const (
	ArtifactKindImage ArtifactKind = "image"
	ArtifactKindVideo ArtifactKind = "video"
	ArtifactKindAudio ArtifactKind = "audio"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactKindImage, ArtifactKindVideo, ArtifactKindAudio:
		return true
	}
	return false
}

// Artifact is one generated output of a completed job.
type Artifact struct {
	ID        string
	JobID     string
	UserID    string
	Kind      ArtifactKind
	Position  int
	URL       string
	SourceURL string
	Prompt    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the retention window has elapsed at now.
func (a Artifact) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// GalleryFilter narrows a gallery listing.
type GalleryFilter struct {
	UserID string
	Kind   ArtifactKind
	Limit  int
	Offset int
}
