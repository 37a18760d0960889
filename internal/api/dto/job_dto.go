package dto

// CreateJobRequest is the body for POST /api/v1/jobs. It is used both by
// the payment-event webhook and the manual entry path; payment fields are
// absent for manual jobs.
type CreateJobRequest struct {
	TargetURL     string `json:"target_url" binding:"required"`
	PaymentRef    string `json:"payment_ref"`
	CustomerEmail string `json:"customer_email"`
}

// JobResponse is the full job representation returned on create and get
type JobResponse struct {
	JobID         string `json:"job_id"`
	TargetURL     string `json:"target_url"`
	Slug          string `json:"slug"`
	DisplayName   string `json:"display_name,omitempty"`
	Status        string `json:"status"`
	ArtifactURL   string `json:"artifact_url,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	PaymentStatus string `json:"payment_status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// StatusResponse is the user-facing status view keyed by slug. Failed
// jobs carry a category message and a short support reference instead of
// raw internal error text.
type StatusResponse struct {
	Status      string `json:"status"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Category    string `json:"category,omitempty"`
	Message     string `json:"message,omitempty"`
	SupportRef  string `json:"support_ref,omitempty"`
}
