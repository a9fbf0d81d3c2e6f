// Package prediction talks to a Replicate-compatible prediction API: it
// submits generation requests and fetches prediction state for polling.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genjobs/internal/domain"
	"genjobs/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("prediction: api key is required")

// Provider-side prediction statuses.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Options configures the prediction client.
type Options struct {
	APIKey         string
	BaseURL        string
	Models         map[domain.JobType]string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the prediction API.
type Client struct {
	apiKey     string
	baseURL    string
	models     map[domain.JobType]string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest carries what the provider needs to start a prediction.
type SubmitRequest struct {
	JobID           string
	Type            domain.JobType
	Prompt          string
	InputParameters json.RawMessage
	WebhookURL      string
}

// Prediction is the provider's view of a submitted job.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"-"`
}

// Terminal reports whether the provider has finished the prediction.
func (p Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ResultData wraps the provider output in the job result envelope.
func (p Prediction) ResultData() json.RawMessage {
	if len(p.Output) == 0 {
		return nil
	}
	raw, _ := json.Marshal(map[string]json.RawMessage{"output": p.Output})
	return raw
}

type createRequest struct {
	Version       string         `json:"version,omitempty"`
	Input         map[string]any `json:"input"`
	Webhook       string         `json:"webhook,omitempty"`
	WebhookEvents []string       `json:"webhook_events_filter,omitempty"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	Detail string          `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("prediction: invalid base url: %w", err)
	}
	models := make(map[domain.JobType]string, len(opts.Models))
	for jobType, model := range opts.Models {
		if model = strings.TrimSpace(model); model != "" {
			models[jobType] = model
		}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		l := infra.Component(*opts.Logger, "prediction_client")
		logger = &l
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		models:     models,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts a prediction and returns its provider id. Every rejection is
// reported as a *domain.SubmissionError.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", &domain.SubmissionError{Message: ErrMissingAPIKey.Error()}
	}
	model := c.models[req.Type]
	if model == "" {
		return "", &domain.SubmissionError{Message: fmt.Sprintf("no model configured for %s", req.Type)}
	}

	input := map[string]any{}
	if len(bytes.TrimSpace(req.InputParameters)) > 0 {
		if err := json.Unmarshal(req.InputParameters, &input); err != nil {
			return "", &domain.SubmissionError{Message: "input parameters must be a JSON object"}
		}
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		if _, ok := input["prompt"]; !ok {
			input["prompt"] = prompt
		}
	}

	payload := createRequest{Input: input}
	if req.WebhookURL != "" {
		payload.Webhook = req.WebhookURL
		payload.WebhookEvents = []string{"completed"}
	}
	endpoint := c.baseURL + "/predictions"
	if _, version, ok := strings.Cut(model, ":"); ok {
		payload.Version = version
	} else {
		endpoint = c.baseURL + "/models/" + model + "/predictions"
	}

	decoded, status, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		if status > 0 {
			return "", &domain.SubmissionError{StatusCode: status, Message: err.Error()}
		}
		return "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", &domain.SubmissionError{StatusCode: status, Message: "response missing prediction id"}
	}
	if decoded.Status == StatusFailed || decoded.Status == StatusCanceled {
		return "", &domain.SubmissionError{StatusCode: status, Message: errorText(decoded.Error, "prediction "+decoded.Status)}
	}
	c.logger.Debug().
		Str("job_id", req.JobID).
		Str("model", model).
		Str("prediction_id", decoded.ID).
		Msg("prediction submitted")
	return decoded.ID, nil
}

// Get fetches the current state of a prediction.
func (c *Client) Get(ctx context.Context, predictionID string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	predictionID = strings.TrimSpace(predictionID)
	if predictionID == "" {
		return nil, errors.New("prediction: id is required")
	}
	decoded, _, err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(predictionID), nil)
	if err != nil {
		return nil, err
	}
	return &Prediction{
		ID:     decoded.ID,
		Status: decoded.Status,
		Output: decoded.Output,
		Error:  errorText(decoded.Error, ""),
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) (*predictionResponse, int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("prediction: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("prediction: build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("prediction: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("prediction: read response: %w", err)
	}

	var decoded predictionResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode >= 300 {
		if decodeErr == nil && decoded.Detail != "" {
			return nil, resp.StatusCode, fmt.Errorf("prediction: status %d: %s", resp.StatusCode, decoded.Detail)
		}
		return nil, resp.StatusCode, fmt.Errorf("prediction: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decodeErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("prediction: decode response: %w", decodeErr)
	}
	return &decoded, resp.StatusCode, nil
}

func errorText(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 || string(raw) == "null" {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return fallback
	}
	return strings.TrimSpace(string(raw))
}
