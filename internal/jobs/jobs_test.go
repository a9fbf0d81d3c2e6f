package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"genjobs/internal/adapter/sqlite"
	"genjobs/internal/domain"
	"genjobs/internal/notify"
	"genjobs/internal/providers/prediction"
)

type stubProvider struct {
	mu          sync.Mutex
	err         error
	onSubmit    func()
	requests    []prediction.SubmitRequest
	predictions map[string]*prediction.Prediction
}

func (s *stubProvider) Submit(ctx context.Context, req prediction.SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.onSubmit != nil {
		s.onSubmit()
	}
	if s.err != nil {
		return "", s.err
	}
	return "pred-" + req.JobID, nil
}

func (s *stubProvider) Get(ctx context.Context, id string) (*prediction.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.predictions[id]
	if !ok {
		return nil, errors.New("unknown prediction")
	}
	return p, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	count int
}

func (p *recordingPublisher) Publish(context.Context, domain.Notification) error {
	p.mu.Lock()
	p.count++
	p.mu.Unlock()
	return nil
}

type harness struct {
	store      *sqlite.Store
	fanOut     *ResultFanOut
	machine    *Machine
	admission  *Admission
	ingress    *Ingress
	provider   *stubProvider
	service    *Service
	publisher  *recordingPublisher
	reconciler *Reconciler
}

func newHarness(t *testing.T, limits domain.AdmissionLimits) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, provider: &stubProvider{predictions: map[string]*prediction.Prediction{}}, publisher: &recordingPublisher{}}
	h.fanOut = &ResultFanOut{
		Artifacts:     store.Artifacts,
		Notifications: store.Notifications,
		Renderer:      notify.NewRenderer(),
		Publisher:     h.publisher,
		Retention:     7 * 24 * time.Hour,
	}
	h.machine = NewMachine(store.Jobs, h.fanOut, nil)
	h.admission = NewAdmission(store.Jobs, limits)
	h.ingress = NewIngress(store.Jobs, h.machine)
	h.service = NewService(h.admission, h.machine, h.provider, "https://api.example", nil)
	h.reconciler = NewReconciler(store.Jobs, h.machine, 30*time.Minute, nil)
	return h
}

func (h *harness) artifacts(t *testing.T, jobID string) []domain.Artifact {
	t.Helper()
	list, err := h.store.Artifacts.ListByJobID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	return list
}

func (h *harness) notifications(t *testing.T, jobID string) []domain.Notification {
	t.Helper()
	list, err := h.store.Notifications.ListByJobID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func resultData(urls ...string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"output": urls})
	return raw
}

func TestCanTransition(t *testing.T) {
	statuses := []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed}
	allowed := map[[2]domain.JobStatus]bool{
		{domain.JobStatusPending, domain.JobStatusProcessing}:   true,
		{domain.JobStatusPending, domain.JobStatusFailed}:       true,
		{domain.JobStatusProcessing, domain.JobStatusCompleted}: true,
		{domain.JobStatusProcessing, domain.JobStatusFailed}:    true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if got, want := CanTransition(from, to), allowed[[2]domain.JobStatus{from, to}]; got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMachineRejectsEdgesOutsideLifecycle(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()
	job, err := h.admission.Admit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	_, err = h.machine.Transition(ctx, job.ID, domain.JobStatusPending, domain.StatusPatch{
		Status:     domain.JobStatusCompleted,
		ResultData: resultData("https://x/1.png"),
		OutputURL:  "https://x/1.png",
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := h.machine.MarkProcessing(ctx, job.ID, ""); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("processing without prediction id err = %v, want ErrInvalidPayload", err)
	}
	stored, err := h.store.Jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}

	if _, err := h.machine.FailSubmission(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("FailSubmission: %v", err)
	}
	if _, err := h.machine.Transition(ctx, job.ID, domain.JobStatusFailed, domain.StatusPatch{Status: domain.JobStatusProcessing, ProviderPredictionID: "p"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("exit from terminal err = %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitImageScenario(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{PerUser: 3, Global: 50})
	ctx := context.Background()

	job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "a cat", Locale: "en"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != domain.JobStatusProcessing || job.ProviderPredictionID != "pred-"+job.ID {
		t.Fatalf("job after submit = %+v", job)
	}
	if got := h.provider.requests[0].WebhookURL; got != "https://api.example/v1/webhooks/prediction?job_id="+job.ID {
		t.Fatalf("webhook url = %q", got)
	}

	outcome, err := h.ingress.Apply(ctx, Signal{JobID: job.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/img1.png")})
	if err != nil || outcome != OutcomeApplied {
		t.Fatalf("Apply = %v, %v; want applied", outcome, err)
	}

	stored, err := h.store.Jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.JobStatusCompleted || stored.OutputURL != "https://x/img1.png" || stored.ErrorMessage != "" {
		t.Fatalf("stored job = %+v", stored)
	}
	if stored.StartedAt == nil || stored.CompletedAt == nil || stored.CompletedAt.Before(*stored.StartedAt) {
		t.Fatalf("timestamps out of order: started=%v completed=%v", stored.StartedAt, stored.CompletedAt)
	}

	artifacts := h.artifacts(t, job.ID)
	if len(artifacts) != 1 || artifacts[0].Kind != domain.ArtifactKindImage || artifacts[0].URL != "https://x/img1.png" || artifacts[0].Prompt != "a cat" {
		t.Fatalf("artifacts = %+v", artifacts)
	}
	if got := artifacts[0].ExpiresAt.Sub(artifacts[0].CreatedAt); got != 7*24*time.Hour {
		t.Fatalf("retention = %v, want 7d", got)
	}
	notes := h.notifications(t, job.ID)
	if len(notes) != 1 || notes[0].Kind != domain.NotificationJobCompleted {
		t.Fatalf("notifications = %+v", notes)
	}
	if h.publisher.count != 1 {
		t.Fatalf("published = %d, want 1", h.publisher.count)
	}
}

func TestSubmitRejectsUnknownJobType(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{PerUser: 3, Global: 50})
	ctx := context.Background()

	_, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: "banana", Prompt: "x"})
	if !errors.Is(err, domain.ErrInvalidJobType) {
		t.Fatalf("err = %v, want ErrInvalidJobType", err)
	}
	rows, err := h.store.Jobs.ListByUser(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(rows) != 0 || len(h.provider.requests) != 0 {
		t.Fatalf("rows=%d provider calls=%d, want none", len(rows), len(h.provider.requests))
	}
}

func TestSubmitProviderRejectionFailsJob(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{PerUser: 3, Global: 50})
	h.provider.err = &domain.SubmissionError{StatusCode: 422, Message: "invalid input"}
	ctx := context.Background()

	job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeVideoGeneration, Prompt: "waves"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.ErrorMessage == "" || len(job.ResultData) != 0 {
		t.Fatalf("job = %+v, want failed with error message", job)
	}
	notes := h.notifications(t, job.ID)
	if len(notes) != 1 || notes[0].Kind != domain.NotificationJobFailed {
		t.Fatalf("notifications = %+v", notes)
	}
	status, err := h.admission.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ActiveJobs != 0 || status.Available != 3 {
		t.Fatalf("status = %+v, failed job must free its slot", status)
	}
}

func TestConcurrentDuplicateWebhooksFanOutOnce(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()
	job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeLipSync, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	signal := Signal{JobID: job.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/a.mp4", "https://x/b.mp4")}
	const deliveries = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := h.ingress.Apply(ctx, signal)
			if err != nil {
				t.Errorf("Apply: %v", err)
				return
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if outcomes[OutcomeApplied] != 1 || outcomes[OutcomeDuplicate] != deliveries-1 {
		t.Fatalf("outcomes = %v, want one applied", outcomes)
	}
	artifacts := h.artifacts(t, job.ID)
	if len(artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(artifacts))
	}
	for _, a := range artifacts {
		if a.Kind != domain.ArtifactKindVideo {
			t.Fatalf("lip_sync artifact kind = %s, want video", a.Kind)
		}
	}
	if notes := h.notifications(t, job.ID); len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
}

func TestConcurrentAdmissionHonoursUserCap(t *testing.T) {
	const maxAllowed = 3
	h := newHarness(t, domain.AdmissionLimits{PerUser: maxAllowed, Global: 50})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		full     int
	)
	for i := 0; i < maxAllowed+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.admission.Admit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrQueueFull):
				full++
			default:
				t.Errorf("Admit: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != maxAllowed || full != 1 {
		t.Fatalf("accepted=%d full=%d, want %d/1", accepted, full, maxAllowed)
	}

	decision, err := h.admission.TryAdmit(ctx, "user-1")
	if err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	if decision.Accepted || decision.Reason != domain.AdmissionScopeUser || decision.CurrentActive != maxAllowed {
		t.Fatalf("decision = %+v", decision)
	}
	other, err := h.admission.TryAdmit(ctx, "user-2")
	if err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	if !other.Accepted {
		t.Fatalf("other user should be admitted: %+v", other)
	}
}

func TestAdmissionGlobalCap(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{PerUser: 3, Global: 2})
	ctx := context.Background()
	for _, user := range []string{"user-1", "user-2"} {
		if _, err := h.admission.Admit(ctx, domain.NewJob{UserID: user, Type: domain.JobTypeAudioGeneration}); err != nil {
			t.Fatalf("Admit %s: %v", user, err)
		}
	}

	_, err := h.admission.Admit(ctx, domain.NewJob{UserID: "user-3", Type: domain.JobTypeAudioGeneration})
	var admission *domain.AdmissionError
	if !errors.As(err, &admission) || admission.Scope != domain.AdmissionScopeGlobal {
		t.Fatalf("err = %v, want global admission error", err)
	}
	status, err := h.admission.Status(ctx, "user-3")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.ActiveJobs != 0 || status.MaxAllowed != 3 || status.Available != 0 {
		t.Fatalf("status = %+v, want no availability under a full global queue", status)
	}
}

func TestSweepFailsStaleJobAndLateWebhookLoses(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()

	stalePending, err := h.admission.Admit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "old"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	staleProcessing, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "older"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	h.reconciler.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	res, err := h.reconciler.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Scanned != 2 || res.Failed != 2 {
		t.Fatalf("sweep = %+v, want 2 failed", res)
	}

	for _, id := range []string{stalePending.ID, staleProcessing.ID} {
		job, err := h.store.Jobs.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status != domain.JobStatusFailed || job.ErrorMessage != domain.TimeoutMessage {
			t.Fatalf("job = %+v, want failed with timeout message", job)
		}
	}

	if _, err := h.machine.Complete(ctx, staleProcessing.ID, resultData("https://x/late.png")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("late completion err = %v, want ErrConflict", err)
	}
	outcome, err := h.ingress.Apply(ctx, Signal{JobID: staleProcessing.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/late.png")})
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("late webhook = %v, %v; want duplicate", outcome, err)
	}
	if got := h.artifacts(t, staleProcessing.ID); len(got) != 0 {
		t.Fatalf("artifacts = %+v, want none", got)
	}
	notes := h.notifications(t, stalePending.ID)
	if len(notes) != 1 || notes[0].Kind != domain.NotificationJobFailed {
		t.Fatalf("notifications = %+v", notes)
	}

	again, err := h.reconciler.Sweep(ctx)
	if err != nil || again.Scanned != 0 {
		t.Fatalf("second sweep = %+v, %v; want nothing to do", again, err)
	}
}

func TestSweepLeavesFreshJobs(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()
	if _, err := h.admission.Admit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration}); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	res, err := h.reconciler.Sweep(ctx)
	if err != nil || res.Scanned != 0 {
		t.Fatalf("sweep = %+v, %v; want no stale jobs", res, err)
	}
}

func TestIngressEdgeCases(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()
	pending, err := h.admission.Admit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	tests := []struct {
		name    string
		signal  Signal
		want    Outcome
		wantErr error
	}{
		{name: "unknown job", signal: Signal{JobID: "missing", Status: domain.JobStatusFailed, ErrorMessage: "x"}, wantErr: domain.ErrNotFound},
		{name: "no outputs", signal: Signal{JobID: pending.ID, Status: domain.JobStatusCompleted, ResultData: json.RawMessage(`{"output":[]}`)}, wantErr: domain.ErrInvalidPayload},
		{name: "bad status", signal: Signal{JobID: pending.ID, Status: "done"}, wantErr: domain.ErrInvalidPayload},
		{name: "both result and error", signal: Signal{JobID: pending.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/1.png"), ErrorMessage: "x"}, wantErr: domain.ErrInvalidPayload},
		{name: "pending job", signal: Signal{JobID: pending.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/1.png")}, want: OutcomeTooEarly},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.ingress.Apply(ctx, tc.signal)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("Apply = %v, %v; want %v", got, err, tc.want)
			}
		})
	}

	stored, err := h.store.Jobs.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.JobStatusPending {
		t.Fatalf("job touched by rejected signals: %+v", stored)
	}
}

func TestPollerSettlesFinishedPredictions(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()
	done, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeAudioGeneration, Prompt: "lofi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	broken, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeAudioGeneration, Prompt: "noise"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	running, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeAudioGeneration, Prompt: "jazz"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.provider.predictions[done.ProviderPredictionID] = &prediction.Prediction{ID: done.ProviderPredictionID, Status: prediction.StatusSucceeded, Output: json.RawMessage(`"https://x/song.mp3"`)}
	h.provider.predictions[broken.ProviderPredictionID] = &prediction.Prediction{ID: broken.ProviderPredictionID, Status: prediction.StatusCanceled}
	h.provider.predictions[running.ProviderPredictionID] = &prediction.Prediction{ID: running.ProviderPredictionID, Status: prediction.StatusProcessing}

	poller := NewPoller(h.store.Jobs, h.ingress, h.provider, 15*time.Second, nil)
	poller.now = func() time.Time { return time.Now().Add(time.Minute) }
	settled, err := poller.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d, want 2", settled)
	}

	want := map[string]domain.JobStatus{
		done.ID:    domain.JobStatusCompleted,
		broken.ID:  domain.JobStatusFailed,
		running.ID: domain.JobStatusProcessing,
	}
	for id, status := range want {
		job, err := h.store.Jobs.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.Status != status {
			t.Fatalf("job %s status = %s, want %s", id, job.Status, status)
		}
	}
	if got := h.artifacts(t, done.ID); len(got) != 1 || got[0].Kind != domain.ArtifactKindAudio {
		t.Fatalf("artifacts = %+v", got)
	}
}

type failingArtifacts struct {
	domain.ArtifactRepository
}

func (failingArtifacts) Create(context.Context, *domain.Artifact) error {
	return errors.New("disk full")
}

func TestFanOutPartialFailureKeepsJobCompleted(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	h.fanOut.Artifacts = failingArtifacts{h.store.Artifacts}
	ctx := context.Background()

	job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	updated, err := h.machine.Complete(ctx, job.ID, resultData("https://x/img1.png"))
	if !errors.Is(err, domain.ErrArtifactPersistFailed) {
		t.Fatalf("err = %v, want ErrArtifactPersistFailed", err)
	}
	if updated == nil || updated.Status != domain.JobStatusCompleted {
		t.Fatalf("job = %+v, want completed", updated)
	}
	if notes := h.notifications(t, job.ID); len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
}

type stubMirror struct{ fail bool }

func (m stubMirror) Copy(_ context.Context, jobID string, kind domain.ArtifactKind, position int, sourceURL string) (string, error) {
	if m.fail {
		return "", errors.New("bucket unavailable")
	}
	return "https://cdn.example/" + jobID + "/" + string(kind), nil
}

func TestFanOutMirrorsOutputs(t *testing.T) {
	tests := []struct {
		name       string
		mirror     stubMirror
		wantSource bool
	}{
		{name: "mirrored", mirror: stubMirror{}, wantSource: true},
		{name: "mirror failure keeps provider url", mirror: stubMirror{fail: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, domain.AdmissionLimits{})
			h.fanOut.Mirror = tc.mirror
			ctx := context.Background()
			job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if _, err := h.machine.Complete(ctx, job.ID, resultData("https://x/img1.png")); err != nil {
				t.Fatalf("Complete: %v", err)
			}
			got := h.artifacts(t, job.ID)
			if len(got) != 1 {
				t.Fatalf("artifacts = %d, want 1", len(got))
			}
			if tc.wantSource {
				if got[0].SourceURL != "https://x/img1.png" || got[0].URL == got[0].SourceURL {
					t.Fatalf("artifact = %+v, want mirrored url with source", got[0])
				}
				return
			}
			if got[0].URL != "https://x/img1.png" || got[0].SourceURL != "" {
				t.Fatalf("artifact = %+v, want provider url", got[0])
			}
		})
	}
}

// cancelAfterTerminal cancels the caller's context as soon as a terminal
// status has been committed, like a webhook sender hanging up mid-request.
type cancelAfterTerminal struct {
	domain.JobRepository
	cancel context.CancelFunc
}

func (r cancelAfterTerminal) UpdateStatus(ctx context.Context, jobID string, expected domain.JobStatus, patch domain.StatusPatch) (*domain.Job, error) {
	job, err := r.JobRepository.UpdateStatus(ctx, jobID, expected, patch)
	if err == nil && patch.Status.Terminal() {
		r.cancel()
	}
	return job, err
}

func TestFanOutSurvivesCancelledCaller(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	job, err := h.service.Submit(context.Background(), domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := cancelAfterTerminal{JobRepository: h.store.Jobs, cancel: cancel}
	ingress := NewIngress(jobs, NewMachine(jobs, h.fanOut, nil))

	got, err := ingress.Apply(ctx, Signal{JobID: job.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/1.png", "https://x/2.png")})
	if err != nil || got != OutcomeApplied {
		t.Fatalf("Apply = %v, %v; want applied", got, err)
	}
	if ctx.Err() == nil {
		t.Fatalf("caller context was not cancelled")
	}
	if arts := h.artifacts(t, job.ID); len(arts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(arts))
	}
	if notes := h.notifications(t, job.ID); len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
}

func TestRedeliveryRepairsIncompleteFanOut(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{})
	ctx := context.Background()
	job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	signal := Signal{JobID: job.ID, Status: domain.JobStatusCompleted, ResultData: resultData("https://x/1.png", "https://x/2.png")}

	h.fanOut.Artifacts = failingArtifacts{h.store.Artifacts}
	if got, err := h.ingress.Apply(ctx, signal); err != nil || got != OutcomePartial {
		t.Fatalf("first Apply = %v, %v; want partial", got, err)
	}
	if arts := h.artifacts(t, job.ID); len(arts) != 0 {
		t.Fatalf("artifacts after failed fan-out = %d, want 0", len(arts))
	}

	h.fanOut.Artifacts = h.store.Artifacts
	for i := 0; i < 2; i++ {
		if got, err := h.ingress.Apply(ctx, signal); err != nil || got != OutcomeDuplicate {
			t.Fatalf("redelivery %d = %v, %v; want duplicate", i, got, err)
		}
	}
	if arts := h.artifacts(t, job.ID); len(arts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(arts))
	}
	if notes := h.notifications(t, job.ID); len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}
	if h.publisher.count != 1 {
		t.Fatalf("published %d notifications, want 1", h.publisher.count)
	}
}

func TestSubmitRecordsOutcomeAfterCallerCancels(t *testing.T) {
	h := newHarness(t, domain.AdmissionLimits{PerUser: 1, Global: 10})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.provider.onSubmit = cancel
	h.provider.err = context.Canceled

	job, err := h.service.Submit(ctx, domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.ErrorMessage == "" {
		t.Fatalf("job = %+v, want failed with a reason", job)
	}
	stored, err := h.store.Jobs.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("stored status = %s, want failed", stored.Status)
	}
	if notes := h.notifications(t, job.ID); len(notes) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notes))
	}

	h.provider.onSubmit = nil
	h.provider.err = nil
	next, err := h.service.Submit(context.Background(), domain.NewJob{UserID: "user-1", Type: domain.JobTypeImageGeneration, Prompt: "a dog"})
	if err != nil {
		t.Fatalf("slot not released: %v", err)
	}
	if next.Status != domain.JobStatusProcessing {
		t.Fatalf("next status = %s, want processing", next.Status)
	}
}
