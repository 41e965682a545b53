package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/labshop/internal/dal/rabbitmq"
	"github.com/corray333/labshop/internal/service/models/inbox"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/retry"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// service represents the service layer interface.
type service interface {
	Deliver(ctx context.Context, msg notification.Message) error
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer reads notification requests from RabbitMQ.
type Consumer struct {
	client      *rabbitmq.Client
	service     service
	inboxRepo   iinboxrepo.IInboxRepository
	queue       amqp.Queue
	limit       int
	maxAttempts int
	stop        chan struct{}
	done        chan struct{}
}

// NewConsumer declares the notifications queue and creates a new Consumer.
func NewConsumer(
	client *rabbitmq.Client,
	service service,
	inboxRepo iinboxrepo.IInboxRepository,
	cfg config.Notifications,
) *Consumer {
	if cfg.Queue == "" {
		panic("notifications.queue is not set in config")
	}

	queue, err := client.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:    cfg.Queue,
		Durable: true,
	})
	if err != nil {
		panic(err)
	}

	limit := viper.GetInt("rabbitmq.consumer_concurrency")
	if limit <= 0 {
		limit = 16
	}
	if err := client.Qos(limit); err != nil {
		panic(err)
	}

	return newConsumer(client, service, inboxRepo, queue, limit)
}

func newConsumer(
	client *rabbitmq.Client,
	service service,
	inboxRepo iinboxrepo.IInboxRepository,
	queue amqp.Queue,
	limit int,
) *Consumer {
	maxAttempts := viper.GetInt("rabbitmq.inbox.max_retries")

	return &Consumer{
		client:      client,
		service:     service,
		inboxRepo:   inboxRepo,
		queue:       queue,
		limit:       limit,
		maxAttempts: maxAttempts,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run starts consuming messages from RabbitMQ.
func (c *Consumer) Run(ctx context.Context) error {
	consumerTag := viper.GetString("rabbitmq.consumer_tag")
	if consumerTag == "" {
		consumerTag = "notifier-svc"
	}

	msgs, err := c.client.Consume(rabbitmq.ConsumeConfig{
		Queue:    c.queue.Name,
		Consumer: consumerTag,
	})
	if err != nil {
		return err
	}

	slog.Info("Consumer started", "queue", c.queue.Name, "consumer_tag", consumerTag)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)

	go func() {
		defer close(c.done)
		for {
			select {
			case <-c.stop:
				slog.Info("Stopping consumer")

				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Info("Message channel closed")

					return
				}

				g.Go(func() error {
					c.processMessage(gctx, msg.Body, msg.MessageId, msg)

					return nil
				})
			}
		}
	}()

	<-c.done
	if err := g.Wait(); err != nil {
		slog.Error("Error processing messages", "error", err)
	}

	return nil
}

// processMessage delivers one notification. A failed delivery is parked in the inbox and
// the broker message is acknowledged either way.
func (c *Consumer) processMessage(ctx context.Context, body []byte, brokerID string, ack acknowledger) {
	ctx, span := otel.Tracer("consumer").Start(ctx, "Consumer.processMessage")
	defer span.End()

	msg, err := notification.Decode(body)
	if err != nil || msg.MessageID == "" {
		slog.Error("Rejecting malformed notification", "broker_message_id", brokerID, "error", err)
		if err := ack.Nack(false, false); err != nil {
			slog.Error("Failed to nack message", "error", err)
		}

		return
	}

	if err := c.service.Deliver(ctx, msg); err != nil {
		now := time.Now()
		parkErr := c.inboxRepo.Park(ctx, inbox.Message{
			MessageID: msg.MessageID,
			Kind:      msg.Kind,
			Payload:   body,
			ParkedAt:  now,
			Retry:     retry.Parked(err, c.maxAttempts, now).Failed(err, now),
		})
		if parkErr != nil {
			slog.Error("Failed to park notification in inbox, requeueing",
				"message_id", msg.MessageID,
				"error", parkErr,
			)
			if err := ack.Nack(false, true); err != nil {
				slog.Error("Failed to nack message", "error", err)
			}

			return
		}
		slog.Warn("Notification parked in inbox for retry", "message_id", msg.MessageID, "error", err)
	}

	if err := ack.Ack(false); err != nil {
		slog.Error("Failed to ack message", "message_id", msg.MessageID, "error", err)
	}
}

// Shutdown gracefully shuts down the consumer.
func (c *Consumer) Shutdown() error {
	slog.Info("Shutting down consumer")
	close(c.stop)

	select {
	case <-c.done:
		slog.Info("Consumer stopped successfully")
	case <-time.After(10 * time.Second):
		slog.Warn("Consumer shutdown timeout")
	}

	return nil
}
