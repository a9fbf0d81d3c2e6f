// Package notify renders localized notification messages and publishes stored
// notifications to realtime subscribers.
package notify

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"genjobs/internal/domain"
)

const maxReasonLen = 160

const (
	keyCompleted = "job.completed"
	keyFailed    = "job.failed"
)

var supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(supported)

// Renderer produces the human-readable notification text for a terminal job.
type Renderer struct {
	catalog *catalog.Builder
}

func NewRenderer() *Renderer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	set := func(tag language.Tag, key, msg string) {
		_ = b.SetString(tag, key, msg)
	}
	set(language.English, keyCompleted, "Your %s is ready.")
	set(language.English, keyFailed, "Your %s could not be generated: %s")
	set(language.Indonesian, keyCompleted, "%s Anda sudah siap.")
	set(language.Indonesian, keyFailed, "%s Anda gagal dibuat: %s")

	labels := map[domain.JobType][2]string{
		domain.JobTypeImageGeneration: {"image", "Gambar"},
		domain.JobTypeVideoGeneration: {"video", "Video"},
		domain.JobTypeAudioGeneration: {"audio", "Audio"},
		domain.JobTypeLipSync:         {"lip-sync video", "Video lip-sync"},
	}
	for jobType, l := range labels {
		set(language.English, labelKey(jobType), l[0])
		set(language.Indonesian, labelKey(jobType), l[1])
	}
	return &Renderer{catalog: b}
}

// Tag resolves a stored locale to one of the supported languages.
func Tag(locale string) language.Tag {
	_, idx, _ := matcher.Match(language.Make(strings.TrimSpace(locale)))
	return supported[idx]
}

// Render returns the notification kind and message for a terminal job.
func (r *Renderer) Render(job domain.Job) (domain.NotificationKind, string) {
	p := message.NewPrinter(Tag(job.Locale), message.Catalog(r.catalog))
	label := p.Sprintf(labelKey(job.Type))
	if job.Status == domain.JobStatusCompleted {
		return domain.NotificationJobCompleted, p.Sprintf(keyCompleted, label)
	}
	return domain.NotificationJobFailed, p.Sprintf(keyFailed, label, reason(job.ErrorMessage))
}

func labelKey(t domain.JobType) string {
	return "label." + string(t)
}

func reason(msg string) string {
	msg = strings.Join(strings.Fields(msg), " ")
	if msg == "" {
		msg = "unknown error"
	}
	if r := []rune(msg); len(r) > maxReasonLen {
		msg = string(r[:maxReasonLen-3]) + "..."
	}
	return msg
}
