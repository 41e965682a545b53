package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/labshop/internal/dal/rabbitmq"
	"github.com/corray333/labshop/internal/service/models/outbox"
	"github.com/spf13/viper"
)

type publisher interface {
	Publish(ctx context.Context, cfg rabbitmq.PublishConfig) error
}

// Worker republishes parked notifications from the outbox table.
type Worker struct {
	outboxRepo     ioutboxrepo.IOutboxRepository
	publisher      publisher
	pollInterval   time.Duration
	batchSize      int
	publishTimeout time.Duration
	now            func() time.Time
	stopCh         chan struct{}
}

// NewWorker creates a new outbox worker.
func NewWorker(
	outboxRepo ioutboxrepo.IOutboxRepository,
	publisher publisher,
) *Worker {
	pollIntervalSeconds := viper.GetInt("rabbitmq.outbox.poll_interval_seconds")
	if pollIntervalSeconds <= 0 {
		pollIntervalSeconds = 10
	}

	batchSize := viper.GetInt("rabbitmq.outbox.batch_size")
	if batchSize <= 0 {
		batchSize = 100
	}

	publishTimeout := viper.GetDuration("notifications.publish_timeout")
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}

	return &Worker{
		outboxRepo:     outboxRepo,
		publisher:      publisher,
		pollInterval:   time.Duration(pollIntervalSeconds) * time.Second,
		batchSize:      batchSize,
		publishTimeout: publishTimeout,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// Start begins processing messages from the outbox.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Outbox worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Outbox worker stopped")

			return
		case <-ticker.C:
			w.ProcessMessages(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// ProcessMessages publishes one batch of due messages.
func (w *Worker) ProcessMessages(ctx context.Context) {
	messages, err := w.outboxRepo.Due(ctx, w.now(), w.batchSize)
	if err != nil {
		slog.Error("Failed to load due messages from outbox", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Republishing outbox messages", "count", len(messages))

	for _, msg := range messages {
		pubCtx, cancel := context.WithTimeout(ctx, w.publishTimeout)
		err := w.publisher.Publish(pubCtx, rabbitmq.PublishConfig{
			Exchange:    msg.Exchange,
			RoutingKey:  msg.RoutingKey,
			MessageID:   msg.MessageID,
			ContentType: msg.ContentType,
			Body:        msg.Payload,
		})
		cancel()

		if err != nil {
			w.reschedule(ctx, msg, err)

			continue
		}

		if err := w.outboxRepo.Remove(ctx, msg.ID); err != nil {
			slog.Error("Failed to remove published message from outbox", "outbox_id", msg.ID, "error", err)

			continue
		}
		slog.Info("Outbox message published", "outbox_id", msg.ID, "message_id", msg.MessageID, "kind", msg.Kind)
	}
}

func (w *Worker) reschedule(ctx context.Context, msg outbox.Message, cause error) {
	schedule := msg.Retry.Failed(cause, w.now())
	if schedule.Exhausted() {
		slog.Error("Giving up on outbox message",
			"outbox_id", msg.ID,
			"message_id", msg.MessageID,
			"kind", msg.Kind,
			"attempts", schedule.Attempts,
			"error", cause,
		)
	} else {
		slog.Warn("Failed to republish outbox message, will retry",
			"outbox_id", msg.ID,
			"message_id", msg.MessageID,
			"attempts", schedule.Attempts,
			"next_attempt_at", schedule.NextAttemptAt,
			"error", cause,
		)
	}

	if err := w.outboxRepo.Reschedule(ctx, msg.ID, schedule); err != nil {
		slog.Error("Failed to reschedule outbox message", "outbox_id", msg.ID, "error", err)
	}
}
