package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/blueprintlabs/playbook-worker/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer configures QoS and starts consuming trigger messages
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// prefetch bounds unacknowledged deliveries per consumer; agent runs
	// are long, so holding a deep backlog here would just starve other
	// worker instances
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// consumeLoop dispatches queue-triggered jobs until shutdown
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Consumer loop stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Consumer loop stopped")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Error("Failed to parse trigger message",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				w.rejectDelivery(delivery)
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				w.logger.Error("Trigger message job_id is not a UUID",
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
				w.rejectDelivery(delivery)
				continue
			}

			msg.DeliveryTag = delivery.DeliveryTag
			msg.FromQueue = true

			d := delivery
			w.dispatch(ctx, &msg, &d)
		}
	}
}

// rejectDelivery drops a malformed message without requeueing it
func (w *Worker) rejectDelivery(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		w.logger.Error("Failed to NACK malformed message",
			slog.Any("error", err),
		)
	}
}
