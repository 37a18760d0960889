// Package billing converts an authorized payment into a captured one
// after the deliverable has shipped. This is a one-way notification with
// at-most-once semantics: a lost capture call means manual billing
// follow-up, never a broken job.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
)

// Store is the slice of job storage the notifier needs
type Store interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	MarkPaymentCaptured(ctx context.Context, jobID string) error
}

// Notifier fires the capture callback
type Notifier struct {
	store      Store
	captureURL string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNotifier creates a Notifier
func NewNotifier(store Store, captureURL, token string, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:      store,
		captureURL: captureURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type captureRequest struct {
	JobID       string `json:"job_id"`
	ArtifactURL string `json:"artifact_url"`
}

// Capture fires the capture callback for a completed job, at most once.
// The idempotency guards make duplicate invocations no-ops, and a failed
// callback is logged rather than returned as a job-failing error.
func (n *Notifier) Capture(ctx context.Context, jobID, artifactURL string) (bool, error) {
	job, err := n.store.GetJobByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to load job for capture: %w", err)
	}

	if job.PaymentRef == "" {
		n.logger.Debug("No payment reference, skipping capture",
			slog.String("job_id", jobID),
		)
		return false, nil
	}

	if job.PaymentStatus == domain.PaymentStatusCaptured {
		n.logger.Debug("Payment already captured, skipping",
			slog.String("job_id", jobID),
		)
		return true, nil
	}

	if job.Status != domain.JobStatusCompleted {
		n.logger.Warn("Capture requested for a job that is not completed, skipping",
			slog.String("job_id", jobID),
			slog.String("status", job.Status),
		)
		return false, nil
	}

	reqBody := captureRequest{JobID: jobID, ArtifactURL: artifactURL}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("failed to marshal capture request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.captureURL, bytes.NewReader(jsonData))
	if err != nil {
		return false, fmt.Errorf("failed to create capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("Capture callback failed, payment stays authorized",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return false, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		n.logger.Warn("Capture callback rejected, payment stays authorized",
			slog.String("job_id", jobID),
			slog.Int("status", resp.StatusCode),
			slog.String("body", strings.TrimSpace(string(body))),
		)
		return false, nil
	}

	if err := n.store.MarkPaymentCaptured(ctx, jobID); err != nil {
		// Money moved but the row still says authorized; needs manual
		// reconciliation before any re-run of this job.
		n.logger.Error("Capture succeeded but payment status update failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return true, nil
	}

	n.logger.Info("Payment captured",
		slog.String("job_id", jobID),
		slog.String("payment_ref", job.PaymentRef),
	)

	return true, nil
}
