package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/interfaces/ioutboxrepo"
	"github.com/corray333/labshop/internal/dal/rabbitmq"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/outbox"
	"github.com/corray333/labshop/internal/service/models/retry"
	"go.opentelemetry.io/otel"
)

const contentTypeJSON = "application/json"

type publisher interface {
	Publish(ctx context.Context, cfg rabbitmq.PublishConfig) error
}

// Notifier publishes notification requests to RabbitMQ and parks them in the outbox when
// the broker does not accept them in time.
type Notifier struct {
	publisher   publisher
	outboxRepo  ioutboxrepo.IOutboxRepository
	cfg         config.Notifications
	maxAttempts int
	now         func() time.Time
}

// NewNotifier creates a new Notifier.
func NewNotifier(
	publisher publisher,
	outboxRepo ioutboxrepo.IOutboxRepository,
	cfg config.Notifications,
	maxAttempts int,
) *Notifier {
	return &Notifier{
		publisher:   publisher,
		outboxRepo:  outboxRepo,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Notify never retries synchronously. A nil error means the message was published or parked.
func (n *Notifier) Notify(ctx context.Context, msg notification.Message) error {
	ctx, span := otel.Tracer("notifier").Start(ctx, "Notifier.Notify")
	defer span.End()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, n.cfg.PublishTimeout)
	defer cancel()

	err = n.publisher.Publish(pubCtx, rabbitmq.PublishConfig{
		Exchange:    n.cfg.Exchange,
		RoutingKey:  n.cfg.RoutingKey,
		MessageID:   msg.MessageID,
		ContentType: contentTypeJSON,
		Body:        body,
	})
	if err == nil {
		slog.Debug("Notification published", "message_id", msg.MessageID, "kind", msg.Kind)

		return nil
	}

	slog.Warn("Failed to publish notification, parking in outbox",
		"message_id", msg.MessageID,
		"kind", msg.Kind,
		"error", err,
	)

	now := n.now()
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.PublishTimeout)
	defer storeCancel()

	if err := n.outboxRepo.Park(storeCtx, outbox.Message{
		MessageID:   msg.MessageID,
		Kind:        msg.Kind,
		Exchange:    n.cfg.Exchange,
		RoutingKey:  n.cfg.RoutingKey,
		ContentType: contentTypeJSON,
		Payload:     body,
		ParkedAt:    now,
		Retry:       retry.Parked(err, n.maxAttempts, now),
	}); err != nil {
		return fmt.Errorf("failed to park notification %s: %w", msg.MessageID, err)
	}

	return nil
}
