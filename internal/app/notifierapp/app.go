package notifierapp

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/mailer/smtp"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/dal/rabbitmq"
	deliveryrepo "github.com/corray333/labshop/internal/dal/repositories/delivery/postgres"
	inboxrepo "github.com/corray333/labshop/internal/dal/repositories/inbox/postgres"
	"github.com/corray333/labshop/internal/otel"
	"github.com/corray333/labshop/internal/service/services/mailersvc"
	"github.com/corray333/labshop/internal/transport/consumer"
	inboxworker "github.com/corray333/labshop/internal/worker/inbox"
	"github.com/spf13/viper"
)

// App renders and sends the emails requested by the order service.
type App struct {
	consumerTransp *consumer.Consumer
	inboxWorker    *inboxworker.Worker
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel("notifier-svc")
	rabbitMqClient := rabbitmq.MustNewClient()
	postgresClient := postgres.MustNewClient()

	pool := postgresClient.Pool()
	deliveryRepository := deliveryrepo.NewDeliveryRepository(pool)
	inboxRepository := inboxrepo.NewInboxRepository(pool)

	mailerSvc := mailersvc.MustNewMailerService(
		mailersvc.WithDeliveryRepository(deliveryRepository),
		mailersvc.WithRenderer(mailersvc.NewRenderer(config.LoadFulfillment().Location)),
		mailersvc.WithSender(smtp.MustNewSender()),
	)

	consumerTransp := consumer.NewConsumer(rabbitMqClient, mailerSvc, inboxRepository, config.LoadNotifications())

	inboxWorker := inboxworker.NewWorker(
		inboxRepository,
		mailerSvc,
		viper.GetDuration("rabbitmq.inbox.poll_interval"),
		viper.GetInt("rabbitmq.inbox.batch_size"),
	)

	return &App{
		consumerTransp: consumerTransp,
		inboxWorker:    inboxWorker,
		rabbitMqClient: rabbitMqClient,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		slog.Info("Starting consumer")
		if err := a.consumerTransp.Run(ctx); err != nil {
			slog.Error("Consumer error", "error", err)
		}
	}()

	go func() {
		slog.Info("Starting inbox worker")
		a.inboxWorker.Start(ctx)
	}()

	<-stop
	slog.Info("Shutdown signal received")

	if err := a.consumerTransp.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	}
	a.inboxWorker.Stop()
	cancel()

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Tracer provider shutdown error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
