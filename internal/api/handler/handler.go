package handler

import (
	"context"
	"log/slog"

	"github.com/blueprintlabs/playbook-worker/internal/api/model"
	"github.com/blueprintlabs/playbook-worker/shared/rabbitmq"
)

// JobStore is the slice of job storage the handlers use
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	GetJobBySlug(ctx context.Context, slug string) (*model.Job, error)
	AttachPayment(ctx context.Context, jobID, paymentRef, customerEmail string) (bool, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Storage      JobStore
	RabbitClient *rabbitmq.Client
	AuthToken    string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	storage      JobStore
	rabbitClient *rabbitmq.Client
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		storage:      deps.Storage,
		rabbitClient: deps.RabbitClient,
	}
}
