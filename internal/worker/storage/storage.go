package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, target_url, slug, display_name, status, artifact_url,
		       error_message, error_category, payment_ref, payment_status,
		       customer_email, worker_id, created_at, updated_at, started_at, completed_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	var displayName, artifactURL, errorMessage, errorCategory sql.NullString
	var paymentRef, customerEmail, workerID sql.NullString
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&job.TargetURL,
		&job.Slug,
		&displayName,
		&job.Status,
		&artifactURL,
		&errorMessage,
		&errorCategory,
		&paymentRef,
		&job.PaymentStatus,
		&customerEmail,
		&workerID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.DisplayName = displayName.String
	job.ArtifactURL = artifactURL.String
	job.ErrorMessage = errorMessage.String
	job.ErrorCategory = errorCategory.String
	job.PaymentRef = paymentRef.String
	job.CustomerEmail = customerEmail.String
	job.WorkerID = workerID.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

// ClaimJob moves a job from pending to processing using a status-guarded
// update, so a second runner racing for the same row loses cleanly.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING job_id, target_url, slug, payment_ref, payment_status, customer_email
	`

	var job domain.Job
	var paymentRef, customerEmail sql.NullString

	err := s.db.QueryRowContext(ctx, query, domain.JobStatusProcessing, workerID, jobID, domain.JobStatusPending).Scan(
		&job.JobID,
		&job.TargetURL,
		&job.Slug,
		&paymentRef,
		&job.PaymentStatus,
		&customerEmail,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusProcessing
	job.WorkerID = workerID
	job.PaymentRef = paymentRef.String
	job.CustomerEmail = customerEmail.String

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("target_url", job.TargetURL),
	)

	return &job, nil
}

// MarkCompleted records the terminal completed status with the published
// artifact URL. The URL is required; completed without a URL would break
// the status invariant.
func (s *Storage) MarkCompleted(ctx context.Context, jobID, artifactURL, displayName string) error {
	if artifactURL == "" {
		return fmt.Errorf("artifact URL is required to complete job %s", jobID)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    artifact_url = $2,
		    display_name = COALESCE(NULLIF($3, ''), display_name),
		    error_message = NULL,
		    error_category = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, artifactURL, displayName, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("job %s was not in processing state", jobID)
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.String("artifact_url", artifactURL),
	)

	return nil
}

// MarkFailed records the terminal failed status. It is safe to call from
// an error path with partial context; the message may be best-effort.
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMessage, errorCategory string) error {
	if errorCategory == "" {
		errorCategory = domain.CategoryUnknown
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    error_category = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`

	_, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, errorMessage, errorCategory, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Info("Job failed",
		slog.String("job_id", jobID),
		slog.String("category", errorCategory),
		slog.String("error", errorMessage),
	)

	return nil
}

// ListPendingJobs returns ids of jobs waiting to be claimed, oldest first
func (s *Storage) ListPendingJobs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT job_id
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	return ids, nil
}

// SweepStaleJobs fails jobs stuck in processing longer than the grace
// period. This covers the case where the hosting process was killed
// before its own terminal write could run.
func (s *Storage) SweepStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    error_category = $3,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $4 AND started_at < $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		"worker run exceeded the processing grace period",
		domain.CategoryTimeout,
		domain.JobStatusProcessing,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Warn("Swept stale processing jobs",
			slog.Int64("count", rows),
			slog.Duration("older_than", olderThan),
		)
	}

	return rows, nil
}

// MarkPaymentCaptured flips an authorized payment to captured. The status
// guard keeps the invariant that only completed jobs with a payment
// reference can ever become captured.
func (s *Storage) MarkPaymentCaptured(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET payment_status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
		  AND payment_ref IS NOT NULL
		  AND payment_status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.PaymentStatusCaptured,
		jobID,
		domain.JobStatusCompleted,
		domain.PaymentStatusAuthorized,
	)
	if err != nil {
		return fmt.Errorf("failed to mark payment captured: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		s.logger.Warn("Payment capture mark - no rows affected",
			slog.String("job_id", jobID),
		)
	}

	return nil
}
