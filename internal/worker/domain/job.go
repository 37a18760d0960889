package domain

import "time"

// Job represents a job row for worker processing
type Job struct {
	JobID         string
	TargetURL     string
	Slug          string
	DisplayName   string
	Status        string
	ArtifactURL   string
	ErrorMessage  string
	ErrorCategory string
	PaymentRef    string
	PaymentStatus string
	CustomerEmail string
	WorkerID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// JobMessage represents a job trigger, either delivered over RabbitMQ or
// produced by the pending-row poller.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
	FromQueue   bool   `json:"-"`
}
