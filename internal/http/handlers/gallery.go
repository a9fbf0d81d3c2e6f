package handlers

import (
	"net/http"
	"strings"
	"time"

	"genjobs/internal/domain"
)

type artifactView struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
}

type notificationView struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Gallery lists the caller's artifacts newest first, optionally by type.
func (a *App) Gallery(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	kind := domain.ArtifactKind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type"))))
	if kind != "" && !kind.Valid() {
		a.error(w, http.StatusBadRequest, "invalid_type", "type must be image, video or audio")
		return
	}
	limit, offset := pageParams(r, 24, 100)
	list, err := a.Artifacts.ListByUser(r.Context(), domain.GalleryFilter{UserID: userID, Kind: kind, Limit: limit, Offset: offset})
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	now := a.clock()
	items := make([]artifactView, 0, len(list))
	for _, art := range list {
		items = append(items, artifactView{
			ID:        art.ID,
			JobID:     art.JobID,
			Kind:      string(art.Kind),
			URL:       art.URL,
			SourceURL: art.SourceURL,
			Prompt:    art.Prompt,
			CreatedAt: art.CreatedAt,
			ExpiresAt: art.ExpiresAt,
			Expired:   art.Expired(now),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

// ListNotifications returns the caller's notifications newest first.
func (a *App) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit, _ := pageParams(r, 20, 100)
	list, err := a.Notifications.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	items := make([]notificationView, 0, len(list))
	for _, n := range list {
		items = append(items, notificationView{
			ID:        n.ID,
			JobID:     n.JobID,
			Kind:      string(n.Kind),
			Message:   n.Message,
			CreatedAt: n.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
