// Package storage keeps durable copies of provider outputs, either on the
// local filesystem or in a MinIO bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"genjobs/internal/domain"
)

// ObjectStore writes a blob and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Mirror downloads provider outputs and stores them in an ObjectStore.
type Mirror struct {
	store      ObjectStore
	httpClient *http.Client
	maxBytes   int64
}

// NewMirror returns a Mirror writing into store. A nil httpClient gets a
// client with a two minute timeout.
func NewMirror(store ObjectStore, httpClient *http.Client) *Mirror {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Mirror{store: store, httpClient: httpClient, maxBytes: 512 << 20}
}

// Copy stores the output at sourceURL and returns the durable URL.
func (m *Mirror) Copy(ctx context.Context, jobID string, kind domain.ArtifactKind, position int, sourceURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("storage: invalid source url %q", sourceURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage: download status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(parsed.Path))
	}
	size := resp.ContentLength
	if size > m.maxBytes {
		return "", fmt.Errorf("%w (%d bytes)", ErrTooLarge, size)
	}
	body := &cappedReader{r: io.LimitReader(resp.Body, m.maxBytes+1), remaining: m.maxBytes}
	key := objectKey(jobID, kind, position, contentType, parsed.Path)
	return m.store.Put(ctx, key, body, size, contentType)
}

// ErrTooLarge is returned when a download exceeds the mirror's size cap.
var ErrTooLarge = errors.New("storage: output too large")

// cappedReader fails instead of truncating once more than remaining bytes
// have been read.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func objectKey(jobID string, kind domain.ArtifactKind, position int, contentType, sourcePath string) string {
	if position < 0 {
		position = 0
	}
	ext := extensionFor(contentType)
	if ext == "" {
		ext = strings.ToLower(path.Ext(sourcePath))
	}
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("generated/%ss/%s/%s-%02d%s", kind, jobID, kind, position+1, ext)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ""
	}
}
