package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/blueprintlabs/playbook-worker/internal/worker/agent"
	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	job      *domain.Job
	claimErr error

	completedID   string
	completedURL  string
	completedName string
	completedErr  error

	failedID       string
	failedMessage  string
	failedCategory string
	terminalWrites int
}

func (f *fakeStore) ClaimJob(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.job, nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, jobID, artifactURL, displayName string) error {
	if f.completedErr != nil {
		return f.completedErr
	}
	f.terminalWrites++
	f.completedID = jobID
	f.completedURL = artifactURL
	f.completedName = displayName
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, jobID, errorMessage, errorCategory string) error {
	f.terminalWrites++
	f.failedID = jobID
	f.failedMessage = errorMessage
	f.failedCategory = errorCategory
	return nil
}

type fakeRunner struct {
	result *agent.Result
	err    error
	panics bool
}

func (f *fakeRunner) Run(_ context.Context, targetURL string) (*agent.Result, error) {
	if f.panics {
		panic("runner blew up")
	}
	return f.result, f.err
}

type fakePublisher struct {
	url     string
	err     error
	calls   int
	content []byte
	slug    string
}

func (f *fakePublisher) Publish(_ context.Context, content []byte, slug string) (string, error) {
	f.calls++
	f.content = content
	f.slug = slug
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeCapturer struct {
	calls       int
	jobID       string
	artifactURL string
	err         error
}

func (f *fakeCapturer) Capture(_ context.Context, jobID, artifactURL string) (bool, error) {
	f.calls++
	f.jobID = jobID
	f.artifactURL = artifactURL
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context) error {
	f.calls++
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob() *domain.Job {
	return &domain.Job{
		JobID:         "7b3e9f10-0000-0000-0000-000000000001",
		TargetURL:     "https://owner.com",
		Slug:          "owner-com",
		Status:        domain.JobStatusProcessing,
		PaymentRef:    "pi_abc123",
		PaymentStatus: domain.PaymentStatusAuthorized,
	}
}

func artifactFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blueprint-gtm-playbook-owner-com.html")
	require.NoError(t, os.WriteFile(path, []byte("<html>playbook</html>"), 0o644))
	return path
}

func newTestOrchestrator(store *fakeStore, runner *fakeRunner, publisher *fakePublisher, capturer *fakeCapturer, refresher *fakeRefresher) *Orchestrator {
	var r ContentRefresher
	if refresher != nil {
		r = refresher
	}
	return NewOrchestrator(&OrchestratorConfig{
		Store:     store,
		Runner:    runner,
		Publisher: publisher,
		Capturer:  capturer,
		Refresher: r,
		Logger:    testLogger(),
	})
}

func TestOrchestrator_Run_Success(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactPath: artifactFixture(t),
		DisplayName:  "Owner",
	}}
	publisher := &fakePublisher{url: "https://playbooks.example.net/owner-com"}
	capturer := &fakeCapturer{}
	refresher := &fakeRefresher{}

	o := newTestOrchestrator(store, runner, publisher, capturer, refresher)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)

	assert.Equal(t, store.job.JobID, store.completedID)
	assert.Equal(t, "https://playbooks.example.net/owner-com", store.completedURL)
	assert.Equal(t, "Owner", store.completedName)
	assert.Empty(t, store.failedID)
	assert.Equal(t, 1, store.terminalWrites)

	assert.Equal(t, 1, publisher.calls)
	assert.Equal(t, "owner-com", publisher.slug)
	assert.Equal(t, []byte("<html>playbook</html>"), publisher.content)

	assert.Equal(t, 1, capturer.calls)
	assert.Equal(t, store.job.JobID, capturer.jobID)
	assert.Equal(t, "https://playbooks.example.net/owner-com", capturer.artifactURL)
}

func TestOrchestrator_Run_ClaimMiss(t *testing.T) {
	store := &fakeStore{claimErr: domain.ErrJobAlreadyClaimed}

	o := newTestOrchestrator(store, &fakeRunner{}, &fakePublisher{}, &fakeCapturer{}, nil)
	err := o.Run(context.Background(), "some-id", "worker-1")

	require.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	assert.Zero(t, store.terminalWrites)
}

func TestOrchestrator_Run_RunnerFailure(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{err: fmt.Errorf("%w after 25m0s and 40 messages", domain.ErrWallClockTimeout)}
	capturer := &fakeCapturer{}

	o := newTestOrchestrator(store, runner, &fakePublisher{}, capturer, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Equal(t, store.job.JobID, store.failedID)
	assert.Equal(t, domain.CategoryTimeout, store.failedCategory)
	assert.Empty(t, store.completedID)
	assert.Equal(t, 1, store.terminalWrites)

	// Capture still runs; its own guards skip the non-completed job.
	assert.Equal(t, 1, capturer.calls)
}

func TestOrchestrator_Run_PublishFailureFallsBackToExtractedURL(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactPath: artifactFixture(t),
		ArtifactURL:  "https://playbooks.example.net/owner-com-extracted",
	}}
	publisher := &fakePublisher{err: fmt.Errorf("deploy quota exceeded")}

	o := newTestOrchestrator(store, runner, publisher, &fakeCapturer{}, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Equal(t, "https://playbooks.example.net/owner-com-extracted", store.completedURL)
	assert.Empty(t, store.failedID)
}

func TestOrchestrator_Run_PublishFailureWithoutFallbackFails(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{ArtifactPath: artifactFixture(t)}}
	publisher := &fakePublisher{err: fmt.Errorf("deploy quota exceeded")}

	o := newTestOrchestrator(store, runner, publisher, &fakeCapturer{}, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Equal(t, domain.CategoryNoResult, store.failedCategory)
	assert.Empty(t, store.completedID)
	assert.Equal(t, 1, store.terminalWrites)
}

func TestOrchestrator_Run_URLOnlyResult(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactURL: "https://playbooks.example.net/owner-com",
	}}
	publisher := &fakePublisher{}

	o := newTestOrchestrator(store, runner, publisher, &fakeCapturer{}, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Zero(t, publisher.calls, "nothing to upload without a local file")
	assert.Equal(t, "https://playbooks.example.net/owner-com", store.completedURL)
}

func TestOrchestrator_Run_UnreadableArtifactFallsBack(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactPath: filepath.Join(t.TempDir(), "does-not-exist.html"),
		ArtifactURL:  "https://playbooks.example.net/owner-com",
	}}
	publisher := &fakePublisher{}

	o := newTestOrchestrator(store, runner, publisher, &fakeCapturer{}, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Zero(t, publisher.calls)
	assert.Equal(t, "https://playbooks.example.net/owner-com", store.completedURL)
}

func TestOrchestrator_Run_PanicStillRecordsTerminalStatus(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{panics: true}

	o := newTestOrchestrator(store, runner, &fakePublisher{}, &fakeCapturer{}, nil)

	require.NotPanics(t, func() {
		_ = o.Run(context.Background(), store.job.JobID, "worker-1")
	})

	assert.Equal(t, store.job.JobID, store.failedID)
	assert.Equal(t, domain.CategoryUnknown, store.failedCategory)
	assert.Contains(t, store.failedMessage, "panic")
	assert.Equal(t, 1, store.terminalWrites)
}

func TestOrchestrator_Run_CompletionWriteFailureFallsBackToFailed(t *testing.T) {
	store := &fakeStore{job: testJob(), completedErr: fmt.Errorf("connection reset")}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactURL: "https://playbooks.example.net/owner-com",
	}}

	o := newTestOrchestrator(store, runner, &fakePublisher{}, &fakeCapturer{}, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	// The run still ends with exactly one terminal write, via the guard.
	assert.Equal(t, store.job.JobID, store.failedID)
	assert.Equal(t, 1, store.terminalWrites)
}

func TestOrchestrator_Run_CaptureFailureDoesNotAffectJob(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactURL: "https://playbooks.example.net/owner-com",
	}}
	capturer := &fakeCapturer{err: fmt.Errorf("billing service unavailable")}

	o := newTestOrchestrator(store, runner, &fakePublisher{}, capturer, nil)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Equal(t, store.job.JobID, store.completedID)
	assert.Empty(t, store.failedID)
}

func TestOrchestrator_Run_NoCaptureWithoutPaymentRef(t *testing.T) {
	job := testJob()
	job.PaymentRef = ""
	job.PaymentStatus = domain.PaymentStatusNone
	store := &fakeStore{job: job}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactURL: "https://playbooks.example.net/owner-com",
	}}
	capturer := &fakeCapturer{}

	o := newTestOrchestrator(store, runner, &fakePublisher{}, capturer, nil)
	err := o.Run(context.Background(), job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Zero(t, capturer.calls)
}

func TestOrchestrator_Run_RefreshFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{job: testJob()}
	runner := &fakeRunner{result: &agent.Result{
		ArtifactURL: "https://playbooks.example.net/owner-com",
	}}
	refresher := &fakeRefresher{err: fmt.Errorf("remote hung up")}

	o := newTestOrchestrator(store, runner, &fakePublisher{}, &fakeCapturer{}, refresher)
	err := o.Run(context.Background(), store.job.JobID, "worker-1")

	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, store.job.JobID, store.completedID)
}
