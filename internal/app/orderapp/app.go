package orderapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/gateway/stripe"
	notifier "github.com/corray333/labshop/internal/dal/notifier/rabbitmq"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/dal/rabbitmq"
	"github.com/corray333/labshop/internal/dal/redis"
	couponrepo "github.com/corray333/labshop/internal/dal/repositories/coupon/postgres"
	orderrepo "github.com/corray333/labshop/internal/dal/repositories/order/postgres"
	orderitemrepo "github.com/corray333/labshop/internal/dal/repositories/orderitem/postgres"
	outboxrepo "github.com/corray333/labshop/internal/dal/repositories/outbox/postgres"
	"github.com/corray333/labshop/internal/otel"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/service/services/capacitysvc"
	"github.com/corray333/labshop/internal/service/services/couponsvc"
	"github.com/corray333/labshop/internal/service/services/expirysvc"
	"github.com/corray333/labshop/internal/service/services/ordersvc"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
	grpctransport "github.com/corray333/labshop/internal/transport/grpc"
	httptransport "github.com/corray333/labshop/internal/transport/http"
	expiryworker "github.com/corray333/labshop/internal/worker/expiry"
	outboxworker "github.com/corray333/labshop/internal/worker/outbox"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/middleware/idempotency"
	"github.com/spf13/viper"
)

type gateway interface {
	CreateCheckoutSession(ctx context.Context, o order.Order) (payment.CheckoutSession, error)
	ParseEvent(payload []byte, signature string) (payment.Event, error)
	LookupPayment(ctx context.Context, ev payment.Event) (payment.Payment, error)
}

// App represents the order service application.
type App struct {
	httpTransport  *httptransport.HTTPTransport
	grpcTransport  *grpctransport.GRPCTransport
	outboxWorker   *outboxworker.Worker
	expiryWorker   *expiryworker.Worker
	postgresClient *postgres.Client
	rabbitMqClient *rabbitmq.Client
	redisClient    *redis.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel(viper.GetString("otel.service_name"))
	postgresClient := postgres.MustNewClient()
	rabbitMqClient := rabbitmq.MustNewClient()
	redisClient := redis.MustNewClient()

	fulfillment := config.LoadFulfillment()
	notifications := config.LoadNotifications()

	if _, err := rabbitMqClient.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:    notifications.Queue,
		Durable: true,
	}); err != nil {
		panic(err)
	}

	pool := postgresClient.Pool()
	orderRepository := orderrepo.NewPostgresOrderRepository(pool)
	orderItemRepository := orderitemrepo.NewPostgresOrderItemRepository(pool)
	couponRepository := couponrepo.NewPostgresCouponRepository(pool)
	outboxRepository := outboxrepo.NewOutboxRepository(pool)

	n := notifier.NewNotifier(
		rabbitMqClient,
		outboxRepository,
		notifications,
		viper.GetInt("rabbitmq.outbox.max_retries"),
	)

	estimator := capacitysvc.MustNewEstimator(
		capacitysvc.WithOrderCounter(orderRepository),
		capacitysvc.WithFulfillmentConfig(fulfillment),
	)
	couponSvc := couponsvc.MustNewCouponService(
		couponsvc.WithCouponRepository(couponRepository),
	)
	expirySvc := expirysvc.MustNewExpiryService(
		expirysvc.WithOrderRepository(orderRepository),
		expirysvc.WithNotifier(n),
		expirysvc.WithFulfillmentConfig(fulfillment),
	)

	// A nil *stripe.Gateway must not reach the services as a typed-nil interface.
	var gw gateway
	if g := stripe.MustNew(); g != nil {
		gw = g
	} else {
		slog.Warn("Stripe API key not configured, gateway checkout disabled")
	}

	paymentSvc := paymentsvc.MustNewPaymentService(
		paymentsvc.WithOrderRepository(orderRepository),
		paymentsvc.WithOrderItemRepository(orderItemRepository),
		paymentsvc.WithCouponRepository(couponRepository),
		paymentsvc.WithNotifier(n),
		paymentsvc.WithGateway(gw),
		paymentsvc.WithAdminEmail(notifications.AdminEmail),
	)
	orderSvc := ordersvc.MustNewOrderService(
		ordersvc.WithPostgresClient(postgresClient),
		ordersvc.WithEstimator(estimator),
		ordersvc.WithCouponValidator(couponSvc),
		ordersvc.WithPaymentService(paymentSvc),
		ordersvc.WithSweeper(expirySvc),
		ordersvc.WithNotifier(n),
		ordersvc.WithGateway(gw),
		ordersvc.WithFulfillmentConfig(fulfillment),
		ordersvc.WithShippingConfig(config.LoadShipping()),
		ordersvc.WithBankTransferConfig(config.LoadBankTransfer()),
		ordersvc.WithAdminEmail(notifications.AdminEmail),
	)

	var store idempotency.Store
	if redisClient != nil {
		store = idempotency.NewRedisStore(redisClient.Redis(), "labshop:idempotency:")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = viper.GetString("auth.jwt_secret")
	}
	if secret == "" {
		panic("JWT_SECRET is not set")
	}

	httpTransport := httptransport.NewHTTPTransport(httptransport.Services{
		Orders:         orderSvc,
		Payments:       paymentSvc,
		Coupons:        couponSvc,
		Estimator:      estimator,
		Sweeper:        expirySvc,
		Idempotency:    store,
		IdempotencyTTL: viper.GetDuration("idempotency.ttl"),
		Auth:           auth.NewAuthenticator(secret),
		Ready:          postgresClient.Ping,
	})
	httpTransport.RegisterRoutes()

	return &App{
		httpTransport:  httpTransport,
		grpcTransport:  grpctransport.NewGRPCTransport(postgresClient),
		outboxWorker:   outboxworker.NewWorker(outboxRepository, rabbitMqClient),
		expiryWorker:   expiryworker.NewWorker(expirySvc, fulfillment.SweepInterval),
		postgresClient: postgresClient,
		rabbitMqClient: rabbitMqClient,
		redisClient:    redisClient,
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
		if err := a.httpTransport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		if err := a.grpcTransport.Run(); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	go func() {
		slog.Info("Starting outbox worker")
		a.outboxWorker.Start(ctx)
	}()

	go func() {
		slog.Info("Starting expiry worker")
		a.expiryWorker.Start(ctx)
	}()

	<-stop
	slog.Info("Shutdown signal received")

	a.outboxWorker.Stop()
	a.expiryWorker.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.httpTransport.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.grpcTransport.Shutdown(shutdownCtx); err != nil {
		slog.Error("gRPC server shutdown error", "error", err)
	} else {
		slog.Info("gRPC server stopped gracefully")
	}

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			slog.Error("Redis connection close error", "error", err)
		}
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed")

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Tracer provider shutdown error", "error", err)
	}

	slog.Info("Application shutdown complete")
}
