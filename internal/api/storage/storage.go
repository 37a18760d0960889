package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/blueprintlabs/playbook-worker/internal/api/model"
	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/blueprintlabs/playbook-worker/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// ErrJobNotFound is returned when no job matches the lookup key
var ErrJobNotFound = errors.New("job not found")

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, target_url, slug, status,
			payment_ref, payment_status, customer_email,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.TargetURL,
		job.Slug,
		job.Status,
		job.PaymentRef,
		job.PaymentStatus,
		job.CustomerEmail,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT job_id, target_url, slug, display_name, status, artifact_url,
		       error_message, error_category, payment_ref, payment_status,
		       customer_email, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// AttachPayment binds an authorized payment to a job that does not carry
// one yet. The payment_ref guard makes the write race-safe: a concurrent
// authorization wins and this one reports false, so the caller can flag
// the losing reference for billing reconciliation.
func (s *Storage) AttachPayment(ctx context.Context, jobID, paymentRef, customerEmail string) (bool, error) {
	query := `
		UPDATE jobs
		SET payment_ref = $1,
		    payment_status = $2,
		    customer_email = COALESCE(NULLIF($3, ''), customer_email),
		    updated_at = NOW()
		WHERE job_id = $4
		  AND payment_ref IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, paymentRef, domain.PaymentStatusAuthorized, customerEmail, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to attach payment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// GetJobBySlug returns the most recent job for a slug. A target can be
// re-submitted, so older rows for the same slug may exist behind it.
func (s *Storage) GetJobBySlug(ctx context.Context, slug string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT job_id, target_url, slug, display_name, status, artifact_url,
		       error_message, error_category, payment_ref, payment_status,
		       customer_email, created_at, updated_at
		FROM jobs
		WHERE slug = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	err := s.db.GetContext(ctx, &job, query, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job by slug: %w", err)
	}

	return &job, nil
}
