package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/api/dto"
	"github.com/blueprintlabs/playbook-worker/internal/api/model"
	"github.com/blueprintlabs/playbook-worker/internal/api/storage"
	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /api/v1/jobs
// Creates a pending job for a target URL and publishes a trigger message.
// Both the payment webhook and the manual entry path land here. A live
// job for the same target is reused instead of starting a duplicate run,
// with any incoming payment attached to it; a terminal job means this is
// a fresh order and a new row is created behind it.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "target_url is required",
		})
		return
	}

	slug := domain.Slug(req.TargetURL)
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "target_url could not be normalized",
		})
		return
	}

	if existing, err := h.storage.GetJobBySlug(c.Request.Context(), slug); err == nil {
		if !isTerminal(existing.Status) {
			h.reuseLiveJob(c, existing, &req)
			return
		}
	} else if !errors.Is(err, storage.ErrJobNotFound) {
		h.logger.Error("Failed to check existing job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	paymentStatus := domain.PaymentStatusNone
	if req.PaymentRef != "" {
		paymentStatus = domain.PaymentStatusAuthorized
	}

	now := time.Now()
	job := model.Job{
		JobID:         uuid.New().String(),
		TargetURL:     req.TargetURL,
		Slug:          slug,
		Status:        domain.JobStatusPending,
		PaymentRef:    nullString(req.PaymentRef),
		PaymentStatus: paymentStatus,
		CustomerEmail: nullString(req.CustomerEmail),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.storage.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	// The trigger message is a fast path only; the worker's poller picks
	// up pending rows regardless, so a publish failure is not fatal.
	h.publishTrigger(c, job.JobID)

	c.JSON(http.StatusOK, jobResponse(&job))
}

// reuseLiveJob answers a create request whose slug already has a job in
// flight. An incoming payment reference must not be dropped on the
// floor: it is attached to the job when that job carries none, and
// logged loudly as orphaned when it cannot be, so billing reconciliation
// has something to find.
func (h *JobHandler) reuseLiveJob(c *gin.Context, existing *model.Job, req *dto.CreateJobRequest) {
	if req.PaymentRef == "" || existing.PaymentRef.String == req.PaymentRef {
		h.logger.Info("Job for slug already in flight, returning it",
			slog.String("slug", existing.Slug),
			slog.String("job_id", existing.JobID),
			slog.String("status", existing.Status),
		)
		c.JSON(http.StatusOK, jobResponse(existing))
		return
	}

	if existing.PaymentRef.Valid {
		// Two different authorizations for one run; the incoming one is
		// attached to no row.
		h.logger.Warn("Job already carries a payment reference, incoming one is orphaned",
			slog.String("slug", existing.Slug),
			slog.String("job_id", existing.JobID),
			slog.String("payment_ref", existing.PaymentRef.String),
			slog.String("orphaned_payment_ref", req.PaymentRef),
		)
		c.JSON(http.StatusOK, jobResponse(existing))
		return
	}

	attached, err := h.storage.AttachPayment(c.Request.Context(), existing.JobID, req.PaymentRef, req.CustomerEmail)
	if err != nil {
		h.logger.Error("Failed to attach payment to in-flight job",
			slog.String("job_id", existing.JobID),
			slog.String("payment_ref", req.PaymentRef),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	if attached {
		existing.PaymentRef = nullString(req.PaymentRef)
		existing.PaymentStatus = domain.PaymentStatusAuthorized
		if req.CustomerEmail != "" {
			existing.CustomerEmail = nullString(req.CustomerEmail)
		}
		h.logger.Info("Attached payment to in-flight job",
			slog.String("job_id", existing.JobID),
			slog.String("payment_ref", req.PaymentRef),
		)
	} else {
		h.logger.Warn("Payment attach lost a race to a concurrent authorization, incoming one is orphaned",
			slog.String("job_id", existing.JobID),
			slog.String("orphaned_payment_ref", req.PaymentRef),
		)
	}

	c.JSON(http.StatusOK, jobResponse(existing))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobResponse(job))
}

// GetJobStatus handles GET /api/v1/status/:slug
// User-facing status view: a failed run surfaces a category message and
// a short support reference, never raw internal error text. A failed job
// is still a 200 - failure is data, not a transport error.
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	// Normalize so a raw host or pasted URL resolves the same as the
	// canonical slug form.
	slug := domain.Slug(c.Param("slug"))

	job, err := h.storage.GetJobBySlug(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "no job for this slug",
			})
			return
		}
		h.logger.Error("Failed to get job by slug", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	resp := dto.StatusResponse{
		Status: job.Status,
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		resp.ArtifactURL = job.ArtifactURL.String
		resp.DisplayName = job.DisplayName.String
	case domain.JobStatusFailed:
		resp.Category = job.ErrorCategory.String
		resp.Message = domain.CategoryMessage(job.ErrorCategory.String)
		resp.SupportRef = supportRef(job.JobID)
	}

	c.JSON(http.StatusOK, resp)
}

// publishTrigger sends the job trigger message; failure is logged only
func (h *JobHandler) publishTrigger(c *gin.Context, jobID string) {
	if h.rabbitClient == nil {
		return
	}

	body, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		h.logger.Error("Failed to marshal trigger message", slog.String("error", err.Error()))
		return
	}

	if err := h.rabbitClient.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Error("Failed to publish trigger message, poller will pick the job up",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func jobResponse(job *model.Job) dto.JobResponse {
	return dto.JobResponse{
		JobID:         job.JobID,
		TargetURL:     job.TargetURL,
		Slug:          job.Slug,
		DisplayName:   job.DisplayName.String,
		Status:        job.Status,
		ArtifactURL:   job.ArtifactURL.String,
		ErrorCategory: job.ErrorCategory.String,
		PaymentStatus: job.PaymentStatus,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
}

func isTerminal(status string) bool {
	return status == domain.JobStatusCompleted || status == domain.JobStatusFailed
}

func supportRef(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
