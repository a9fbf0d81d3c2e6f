package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"genjobs/internal/domain"
)

// SubjectPrefix is prepended to the user id to form the publish subject.
const SubjectPrefix = "notifications."

// Publisher delivers stored notifications to realtime subscribers.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// NopPublisher drops every notification.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Notification) error { return nil }

type event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	JobID     string    `json:"jobId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// NATSPublisher publishes notifications as JSON on notifications.<userId>.
type NATSPublisher struct {
	conn *nats.Conn
}

// ConnectNATS dials url and returns a publisher owning the connection.
func ConnectNATS(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("genjobs"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("notify: connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event{
		ID:        n.ID,
		UserID:    n.UserID,
		JobID:     n.JobID,
		Kind:      string(n.Kind),
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	if err := p.conn.Publish(Subject(n.UserID), payload); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Subject returns the NATS subject for a user's notifications. NATS tokens
// cannot contain separators or wildcards, so those characters are replaced.
func Subject(userID string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, userID)
	return SubjectPrefix + clean
}
