package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"genjobs/internal/domain"
	"genjobs/internal/jobs"
)

const signatureHeader = "X-Webhook-Signature"

// webhookPayload accepts both the internal completion shape
// ({jobId, status, resultData, errorMessage}) and the provider's native
// prediction object ({id, status, output, error}) with job_id in the query.
type webhookPayload struct {
	JobID        string          `json:"jobId"`
	Status       string          `json:"status"`
	ResultData   json.RawMessage `json:"resultData"`
	ErrorMessage string          `json:"errorMessage"`

	PredictionID string          `json:"id"`
	Output       json.RawMessage `json:"output"`
	Error        json.RawMessage `json:"error"`
}

// PredictionWebhook applies a provider completion signal.
func (a *App) PredictionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if a.WebhookSecret != "" && !validSignature(a.WebhookSecret, body, r.Header.Get(signatureHeader)) {
		a.error(w, http.StatusUnauthorized, "invalid_signature", "signature mismatch")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID := strings.TrimSpace(payload.JobID)
	if jobID == "" {
		jobID = strings.TrimSpace(r.URL.Query().Get("job_id"))
	}
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}

	signal := jobs.Signal{JobID: jobID}
	switch strings.ToLower(strings.TrimSpace(payload.Status)) {
	case "completed", "succeeded":
		signal.Status = domain.JobStatusCompleted
		signal.ResultData = payload.ResultData
		if isEmptyJSON(signal.ResultData) && !isEmptyJSON(payload.Output) {
			signal.ResultData, _ = json.Marshal(map[string]json.RawMessage{"output": payload.Output})
		}
		signal.ErrorMessage = payload.ErrorMessage
	case "failed", "canceled", "cancelled":
		signal.Status = domain.JobStatusFailed
		if !isEmptyJSON(payload.ResultData) {
			signal.ResultData = payload.ResultData
		}
		signal.ErrorMessage = firstNonEmpty(payload.ErrorMessage, errorString(payload.Error), "prediction "+strings.ToLower(payload.Status))
	case "starting", "processing":
		a.json(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported status")
		return
	}

	outcome, err := a.Ingress.Apply(r.Context(), signal)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	logger := a.Logger.With().Str("job_id", jobID).Str("outcome", outcome.String()).Logger()
	switch outcome {
	case jobs.OutcomeTooEarly:
		logger.Info().Msg("webhook arrived before processing was recorded")
		a.error(w, http.StatusConflict, "job_not_ready", "job is still pending")
	case jobs.OutcomePartial:
		logger.Warn().Msg("webhook applied with incomplete fan-out")
		a.json(w, http.StatusOK, map[string]string{"status": outcome.String()})
	default:
		logger.Info().Msg("webhook handled")
		a.json(w, http.StatusOK, map[string]string{"status": outcome.String()})
	}
}

func validSignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func errorString(raw json.RawMessage) string {
	if isEmptyJSON(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
