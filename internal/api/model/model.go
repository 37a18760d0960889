package model

import (
	"database/sql"
	"time"
)

// Job is the database row shape for the API service
type Job struct {
	JobID         string         `db:"job_id"`
	TargetURL     string         `db:"target_url"`
	Slug          string         `db:"slug"`
	DisplayName   sql.NullString `db:"display_name"`
	Status        string         `db:"status"`
	ArtifactURL   sql.NullString `db:"artifact_url"`
	ErrorMessage  sql.NullString `db:"error_message"`
	ErrorCategory sql.NullString `db:"error_category"`
	PaymentRef    sql.NullString `db:"payment_ref"`
	PaymentStatus string         `db:"payment_status"`
	CustomerEmail sql.NullString `db:"customer_email"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}
