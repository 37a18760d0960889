package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/blueprintlabs/playbook-worker/internal/worker/storage"
	"github.com/blueprintlabs/playbook-worker/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Storage       *storage.Storage
	RabbitClient  *rabbitmq.Client
	Orchestrator  *Orchestrator
	Concurrency   int64
	PrefetchCount int
	PollInterval  time.Duration
	PollBatchSize int
	StaleAfter    time.Duration
}

// Worker claims jobs from the trigger queue and the pending-row poller
// and hands each to the orchestrator. Concurrency across both claim
// paths is bounded by a single weighted semaphore; within one job there
// is no parallelism at all.
type Worker struct {
	logger        *slog.Logger
	storage       *storage.Storage
	rabbitClient  *rabbitmq.Client
	orchestrator  *Orchestrator
	sem           *semaphore.Weighted
	prefetchCount int
	pollInterval  time.Duration
	pollBatchSize int
	staleAfter    time.Duration
	workerID      string
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	batch := cfg.PollBatchSize
	if batch <= 0 {
		batch = 10
	}

	return &Worker{
		logger:        cfg.Logger,
		storage:       cfg.Storage,
		rabbitClient:  cfg.RabbitClient,
		orchestrator:  cfg.Orchestrator,
		sem:           semaphore.NewWeighted(concurrency),
		prefetchCount: cfg.PrefetchCount,
		pollInterval:  cfg.PollInterval,
		pollBatchSize: batch,
		staleAfter:    cfg.StaleAfter,
		workerID:      "playbook-worker-" + uuid.NewString()[:8],
		stopChan:      make(chan struct{}),
	}
}

// Start begins processing jobs and blocks until the context is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("stale_after", w.staleAfter),
	)

	if w.rabbitClient != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return fmt.Errorf("failed to setup consumer: %w", err)
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consumeLoop(ctx, deliveries)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	return nil
}

// Stop gracefully stops the worker, waiting for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// dispatch runs one job under the concurrency bound. delivery is non-nil
// for queue-triggered jobs and carries the message to ack. The slot is
// acquired inside the goroutine so a saturated pool never blocks the
// consume and poll loops; the stale sweep keeps its cadence no matter
// how long the in-flight runs take. Waiters that pile up behind one slot
// are harmless: the status-guarded claim turns duplicates into misses.
func (w *Worker) dispatch(ctx context.Context, msg *domain.JobMessage, delivery *amqp.Delivery) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.logger.Warn("Worker shutting down, job not dispatched",
				slog.String("job_id", msg.JobID),
			)
			if delivery != nil {
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
			}
			return
		}
		defer w.sem.Release(1)

		err := w.orchestrator.Run(ctx, msg.JobID, w.workerID)
		w.settle(msg, delivery, err)
	}()
}

// settle acks or nacks a queue delivery after processing. A claim miss
// is acked too: the row is owned by another run and a requeue would only
// duplicate work. Automatic retry of failed runs is deliberately absent;
// re-enqueueing belongs to whatever created the job.
func (w *Worker) settle(msg *domain.JobMessage, delivery *amqp.Delivery, err error) {
	switch {
	case err == nil:
		// Terminal status recorded by the orchestrator, nothing to do here.
	case isClaimMiss(err):
		w.logger.Info("Job already claimed elsewhere, skipping",
			slog.String("job_id", msg.JobID),
		)
	default:
		// Claim could not even be attempted (store unreachable). The row
		// is still pending, so the poller will pick it up again.
		w.logger.Error("Job run could not start",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}

	if delivery == nil {
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", ackErr),
		)
	}
}

func isClaimMiss(err error) bool {
	return errors.Is(err, domain.ErrJobAlreadyClaimed) || errors.Is(err, domain.ErrJobNotFound)
}
