package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/worker/agent"
	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
)

// Store is the job-store slice the orchestrator drives. Every status
// write for a claimed job goes through here and nowhere else.
type Store interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	MarkCompleted(ctx context.Context, jobID, artifactURL, displayName string) error
	MarkFailed(ctx context.Context, jobID, errorMessage, errorCategory string) error
}

// AgentRunner executes one unit of agent work for a target URL
type AgentRunner interface {
	Run(ctx context.Context, targetURL string) (*agent.Result, error)
}

// ArtifactPublisher uploads artifact content and returns the public URL
type ArtifactPublisher interface {
	Publish(ctx context.Context, content []byte, slug string) (string, error)
}

// PaymentCapturer fires the capture callback for a completed job
type PaymentCapturer interface {
	Capture(ctx context.Context, jobID, artifactURL string) (bool, error)
}

// ContentRefresher refreshes the shared methodology checkout
type ContentRefresher interface {
	Refresh(ctx context.Context) error
}

// Orchestrator is the per-job state machine: claim, run the agent,
// publish the deliverable, record exactly one terminal status, then
// fire payment capture as a best-effort side step.
type Orchestrator struct {
	store     Store
	runner    AgentRunner
	publisher ArtifactPublisher
	capturer  PaymentCapturer
	refresher ContentRefresher
	logger    *slog.Logger
}

// OrchestratorConfig holds Orchestrator dependencies
type OrchestratorConfig struct {
	Store     Store
	Runner    AgentRunner
	Publisher ArtifactPublisher
	Capturer  PaymentCapturer
	Refresher ContentRefresher
	Logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		store:     cfg.Store,
		runner:    cfg.Runner,
		publisher: cfg.Publisher,
		capturer:  cfg.Capturer,
		refresher: cfg.Refresher,
		logger:    cfg.Logger,
	}
}

// Run drives one job from claim to terminal status. A claim miss or an
// unreachable store surfaces as an error for the caller to skip; once the
// claim succeeds, every path out of this function records completed or
// failed exactly once, panics included.
func (o *Orchestrator) Run(ctx context.Context, jobID, workerID string) error {
	job, err := o.store.ClaimJob(ctx, jobID, workerID)
	if err != nil {
		return err
	}

	terminal := false
	artifactURL := ""

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Job run panicked",
				slog.String("job_id", job.JobID),
				slog.Any("panic", r),
			)
			if !terminal {
				o.markFailed(ctx, job.JobID, fmt.Sprintf("unexpected panic: %v", r), domain.CategoryUnknown)
				terminal = true
			}
		}
		if !terminal {
			o.markFailed(ctx, job.JobID, "worker run ended without recording a terminal status", domain.CategoryUnknown)
		}
	}()

	o.logger.Info("Job run started",
		slog.String("job_id", job.JobID),
		slog.String("target_url", job.TargetURL),
		slog.String("worker_id", workerID),
	)

	// Refresh is a shared-resource side step; a conflict or network error
	// means the run proceeds with the checkout already on disk.
	if o.refresher != nil {
		if err := o.refresher.Refresh(ctx); err != nil {
			o.logger.Warn("Content refresh failed, using existing checkout",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
	}

	res, runErr := o.runner.Run(ctx, job.TargetURL)
	if runErr != nil {
		o.markFailed(ctx, job.JobID, runErr.Error(), domain.CategoryFor(runErr))
		terminal = true
	} else {
		artifactURL = o.publishArtifact(ctx, job, res)
		if artifactURL == "" {
			o.markFailed(ctx, job.JobID,
				"playbook was generated but publishing failed and no fallback URL was available",
				domain.CategoryNoResult)
			terminal = true
		} else if err := o.markCompleted(ctx, job.JobID, artifactURL, res.DisplayName); err != nil {
			// Deferred guard gets one more chance to record a terminal
			// status for this run.
			o.logger.Error("Failed to mark job completed",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		} else {
			terminal = true
		}
	}

	// Capture runs regardless of outcome; the notifier's own guards skip
	// anything that is not a completed job with an authorized payment.
	if job.PaymentRef != "" && o.capturer != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 45*time.Second)
		defer cancel()
		if _, err := o.capturer.Capture(cctx, job.JobID, artifactURL); err != nil {
			o.logger.Warn("Payment capture step failed",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
	}

	return nil
}

// publishArtifact reads and uploads the located file. Publishing is
// isolated: on any failure the URL extracted from agent text, if any, is
// the fallback. Returns "" when neither works.
func (o *Orchestrator) publishArtifact(ctx context.Context, job *domain.Job, res *agent.Result) string {
	fallback := res.ArtifactURL

	if res.ArtifactPath == "" {
		if fallback != "" {
			o.logger.Info("No local artifact, using URL extracted from agent output",
				slog.String("job_id", job.JobID),
				slog.String("url", fallback),
			)
		}
		return fallback
	}

	content, err := os.ReadFile(res.ArtifactPath)
	if err != nil {
		o.logger.Warn("Failed to read located artifact, falling back to extracted URL",
			slog.String("job_id", job.JobID),
			slog.String("path", res.ArtifactPath),
			slog.Any("error", err),
		)
		return fallback
	}

	url, err := o.publisher.Publish(ctx, content, job.Slug)
	if err != nil {
		o.logger.Warn("Publish failed, falling back to extracted URL",
			slog.String("job_id", job.JobID),
			slog.String("fallback_url", fallback),
			slog.Any("error", err),
		)
		return fallback
	}

	return url
}

// Terminal writes run on a context detached from the run's cancellation
// so a shutdown mid-run cannot leave the row stuck in processing.

func (o *Orchestrator) markCompleted(ctx context.Context, jobID, artifactURL, displayName string) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return o.store.MarkCompleted(wctx, jobID, artifactURL, displayName)
}

func (o *Orchestrator) markFailed(ctx context.Context, jobID, message, category string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if err := o.store.MarkFailed(wctx, jobID, message, category); err != nil {
		o.logger.Error("Failed to mark job failed",
			slog.String("job_id", jobID),
			slog.String("message", message),
			slog.Any("error", err),
		)
	}
}
