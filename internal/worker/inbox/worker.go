package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/labshop/internal/service/models/inbox"
	"github.com/corray333/labshop/internal/service/models/notification"
)

// service represents the service layer interface.
type service interface {
	Deliver(ctx context.Context, msg notification.Message) error
}

// Worker retries failed deliveries parked in the inbox table.
type Worker struct {
	inboxRepo    iinboxrepo.IInboxRepository
	service      service
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
	stopCh       chan struct{}
}

// NewWorker creates a new inbox worker.
func NewWorker(
	inboxRepo iinboxrepo.IInboxRepository,
	service service,
	pollInterval time.Duration,
	batchSize int,
) *Worker {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Worker{
		inboxRepo:    inboxRepo,
		service:      service,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start begins processing messages from the inbox.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Inbox worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Inbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Inbox worker stopped")

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

// ProcessMessages retries one batch of due deliveries.
func (w *Worker) ProcessMessages(ctx context.Context) {
	messages, err := w.inboxRepo.Due(ctx, w.now(), w.batchSize)
	if err != nil {
		slog.Error("Failed to load due messages from inbox", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Retrying inbox deliveries", "count", len(messages))

	for _, msg := range messages {
		n, err := notification.Decode(msg.Payload)
		if err != nil {
			slog.Error("Dropping malformed message from inbox", "inbox_id", msg.ID, "message_id", msg.MessageID, "error", err)
			w.remove(ctx, msg)

			continue
		}

		if err := w.service.Deliver(ctx, n); err != nil {
			w.reschedule(ctx, msg, err)

			continue
		}

		w.remove(ctx, msg)
		slog.Info("Inbox message delivered", "inbox_id", msg.ID, "message_id", msg.MessageID, "kind", msg.Kind)
	}
}

func (w *Worker) reschedule(ctx context.Context, msg inbox.Message, cause error) {
	schedule := msg.Retry.Failed(cause, w.now())
	if schedule.Exhausted() {
		slog.Error("Giving up on notification after max attempts",
			"inbox_id", msg.ID,
			"message_id", msg.MessageID,
			"kind", msg.Kind,
			"attempts", schedule.Attempts,
			"error", cause,
		)
	} else {
		slog.Warn("Failed to deliver message from inbox, will retry",
			"inbox_id", msg.ID,
			"attempts", schedule.Attempts,
			"next_attempt_at", schedule.NextAttemptAt,
			"error", cause,
		)
	}

	if err := w.inboxRepo.Reschedule(ctx, msg.ID, schedule); err != nil {
		slog.Error("Failed to reschedule inbox message", "inbox_id", msg.ID, "error", err)
	}
}

func (w *Worker) remove(ctx context.Context, msg inbox.Message) {
	if err := w.inboxRepo.Remove(ctx, msg.ID); err != nil {
		slog.Error("Failed to remove message from inbox", "inbox_id", msg.ID, "error", err)
	}
}
