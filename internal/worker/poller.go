package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
)

// pollLoop periodically scans for pending jobs that arrived without a
// queue trigger, and sweeps jobs whose runner died before recording a
// terminal status. The poller and the consumer race for the same rows;
// the status-guarded claim makes that race safe.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("Pending-job poller started",
		slog.Duration("interval", w.pollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Poller stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Poller stopped")
			return

		case <-ticker.C:
			w.sweepStale(ctx)
			w.pollPending(ctx)
		}
	}
}

// sweepStale fails jobs stuck in processing past the grace period. This
// is the watchdog for host-level kills that bypass the orchestrator's
// own terminal-write guard.
func (w *Worker) sweepStale(ctx context.Context) {
	if w.staleAfter <= 0 {
		return
	}

	swept, err := w.storage.SweepStaleJobs(ctx, w.staleAfter)
	if err != nil {
		w.logger.Error("Stale-job sweep failed",
			slog.Any("error", err),
		)
		return
	}

	if swept > 0 {
		w.logger.Warn("Marked stale processing jobs as failed",
			slog.Int64("count", swept),
		)
	}
}

func (w *Worker) pollPending(ctx context.Context) {
	ids, err := w.storage.ListPendingJobs(ctx, w.pollBatchSize)
	if err != nil {
		w.logger.Error("Failed to list pending jobs",
			slog.Any("error", err),
		)
		return
	}

	if len(ids) == 0 {
		return
	}

	w.logger.Debug("Poller found pending jobs",
		slog.Int("count", len(ids)),
	)

	for _, id := range ids {
		w.dispatch(ctx, &domain.JobMessage{JobID: id}, nil)
	}
}
