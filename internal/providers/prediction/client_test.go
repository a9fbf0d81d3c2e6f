package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genjobs/internal/domain"
)

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:  "test-key",
		BaseURL: "https://provider.example/v1",
		Models: map[domain.JobType]string{
			domain.JobTypeImageGeneration: "black-forest-labs/flux-schnell",
			domain.JobTypeAudioGeneration: "meta/musicgen:7a76a825",
		},
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitModelEndpointPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSON("/v1/models/black-forest-labs/flux-schnell/predictions", http.StatusCreated, map[string]any{
		"id":     "pred-123",
		"status": "starting",
	})
	client := newTestClient(t, transport)

	id, err := client.Submit(context.Background(), SubmitRequest{
		JobID:           "job-1",
		Type:            domain.JobTypeImageGeneration,
		Prompt:          "a cat",
		InputParameters: json.RawMessage(`{"aspect_ratio":"1:1"}`),
		WebhookURL:      "https://api.example/v1/webhooks/prediction?job_id=job-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "pred-123" {
		t.Fatalf("id = %q, want pred-123", id)
	}
	if got := transport.lastHeader.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("authorization = %q", got)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if _, ok := payload["version"]; ok {
		t.Fatalf("version must be omitted for model endpoints")
	}
	input := payload["input"].(map[string]any)
	if input["prompt"] != "a cat" || input["aspect_ratio"] != "1:1" {
		t.Fatalf("input = %v", input)
	}
	if payload["webhook"] != "https://api.example/v1/webhooks/prediction?job_id=job-1" {
		t.Fatalf("webhook = %v", payload["webhook"])
	}
	events := payload["webhook_events_filter"].([]any)
	if len(events) != 1 || events[0] != "completed" {
		t.Fatalf("webhook events = %v", events)
	}
}

func TestSubmitVersionedModel(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSON("/v1/predictions", http.StatusCreated, map[string]any{"id": "pred-9", "status": "starting"})
	client := newTestClient(t, transport)

	if _, err := client.Submit(context.Background(), SubmitRequest{Type: domain.JobTypeAudioGeneration, Prompt: "lofi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["version"] != "7a76a825" {
		t.Fatalf("version = %v, want 7a76a825", payload["version"])
	}
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name       string
		jobType    domain.JobType
		status     int
		body       string
		wantStatus int
	}{
		{name: "provider rejects", jobType: domain.JobTypeImageGeneration, status: http.StatusUnprocessableEntity, body: `{"detail":"invalid input"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "malformed body", jobType: domain.JobTypeImageGeneration, status: http.StatusCreated, body: `not json`, wantStatus: http.StatusCreated},
		{name: "missing id", jobType: domain.JobTypeImageGeneration, status: http.StatusCreated, body: `{"status":"starting"}`, wantStatus: http.StatusCreated},
		{name: "no model for type", jobType: domain.JobTypeLipSync},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			transport.responses["/v1/models/black-forest-labs/flux-schnell/predictions"] = responseStub{status: tc.status, body: []byte(tc.body)}
			client := newTestClient(t, transport)

			_, err := client.Submit(context.Background(), SubmitRequest{Type: tc.jobType, Prompt: "x"})
			if !errors.Is(err, domain.ErrSubmissionFailed) {
				t.Fatalf("err = %v, want ErrSubmissionFailed", err)
			}
			var subErr *domain.SubmissionError
			if !errors.As(err, &subErr) {
				t.Fatalf("err = %T, want *domain.SubmissionError", err)
			}
			if subErr.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", subErr.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestSubmitWithoutCredentials(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Submit(context.Background(), SubmitRequest{Type: domain.JobTypeImageGeneration}); !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
}

func TestGetPrediction(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSON("/v1/predictions/pred-1", http.StatusOK, map[string]any{
		"id":     "pred-1",
		"status": "succeeded",
		"output": []string{"https://x/img1.png"},
	})
	transport.setJSON("/v1/predictions/pred-2", http.StatusOK, map[string]any{
		"id":     "pred-2",
		"status": "failed",
		"error":  "NSFW content detected",
	})
	client := newTestClient(t, transport)

	ok, err := client.Get(context.Background(), "pred-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok.Terminal() || ok.Status != StatusSucceeded {
		t.Fatalf("prediction = %+v", ok)
	}
	outputs, err := domain.ParseOutputs(ok.ResultData())
	if err != nil || len(outputs) != 1 || outputs[0] != "https://x/img1.png" {
		t.Fatalf("outputs = %v, %v", outputs, err)
	}

	failed, err := client.Get(context.Background(), "pred-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.Error != "NSFW content detected" {
		t.Fatalf("error = %q", failed.Error)
	}
}

type captureTransport struct {
	responses  map[string]responseStub
	lastBody   []byte
	lastHeader http.Header
}

type responseStub struct {
	status int
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastHeader = req.Header.Clone()
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if stub, ok := c.responses[req.URL.Path]; ok {
		return &http.Response{
			StatusCode: stub.status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(bytes.NewReader(stub.body)),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSON(path string, status int, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{status: status, body: body}
}
