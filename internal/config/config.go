package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/corray333/labshop/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MustInit loads .env secrets and config.yaml, then installs the default logger.
func MustInit() {
	if err := godotenv.Load("./.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic("error while loading .env file: " + err.Error())
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/labshop")
	viper.AddConfigPath(".")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		panic("error while reading config file: " + err.Error())
	}
	SetupLogger()
}

func SetupLogger() {
	handler := logger.NewHandler(&logger.Options{Level: viper.GetString("logger.level")})
	log := slog.New(handler)
	slog.SetDefault(log)
}

func setDefaults() {
	viper.SetDefault("server.http.port", "8080")
	viper.SetDefault("server.grpc.port", "9090")
	viper.SetDefault("postgres.migrations_path", "./migrations")

	viper.SetDefault("fulfillment.weekly_capacity", DefaultWeeklyCapacity)
	viper.SetDefault("fulfillment.timezone", "America/Argentina/Buenos_Aires")
	viper.SetDefault("fulfillment.transfer_payment_window", time.Hour)
	viper.SetDefault("fulfillment.gateway_abandon_grace", 24*time.Hour)
	viper.SetDefault("fulfillment.sweep_interval", 5*time.Minute)
	viper.SetDefault("fulfillment.sweep_batch_size", 200)

	viper.SetDefault("notifications.exchange", "")
	viper.SetDefault("notifications.queue", "fulfillment.notifications")
	viper.SetDefault("notifications.publish_timeout", 5*time.Second)

	viper.SetDefault("rabbitmq.outbox.poll_interval_seconds", 10)
	viper.SetDefault("rabbitmq.outbox.batch_size", 100)
	viper.SetDefault("rabbitmq.outbox.max_retries", 8)
	viper.SetDefault("rabbitmq.inbox.poll_interval", 10*time.Second)
	viper.SetDefault("rabbitmq.inbox.batch_size", 50)
	viper.SetDefault("rabbitmq.inbox.max_retries", 8)

	viper.SetDefault("idempotency.ttl", 24*time.Hour)
	viper.SetDefault("stripe.currency", "ars")
	viper.SetDefault("otel.service_name", "order-svc")
}

// DefaultWeeklyCapacity is the number of orders the lab completes per week.
const DefaultWeeklyCapacity = 17

// Fulfillment holds the lifecycle settings injected into the estimator and the sweeper.
type Fulfillment struct {
	WeeklyCapacity        int
	Location              *time.Location
	TransferPaymentWindow time.Duration
	GatewayAbandonGrace   time.Duration
	SweepInterval         time.Duration
	SweepBatchSize        int
}

// LoadFulfillment reads the fulfillment section, falling back to defaults for unset or
// nonsensical values.
func LoadFulfillment() Fulfillment {
	cfg := Fulfillment{
		WeeklyCapacity:        viper.GetInt("fulfillment.weekly_capacity"),
		TransferPaymentWindow: viper.GetDuration("fulfillment.transfer_payment_window"),
		GatewayAbandonGrace:   viper.GetDuration("fulfillment.gateway_abandon_grace"),
		SweepInterval:         viper.GetDuration("fulfillment.sweep_interval"),
		SweepBatchSize:        viper.GetInt("fulfillment.sweep_batch_size"),
		Location:              time.UTC,
	}

	if tz := viper.GetString("fulfillment.timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			slog.Warn("Unknown fulfillment timezone, using UTC", "timezone", tz, "error", err)
		} else {
			cfg.Location = loc
		}
	}

	return cfg.WithDefaults()
}

// WithDefaults replaces zero or negative settings with their defaults.
func (c Fulfillment) WithDefaults() Fulfillment {
	if c.WeeklyCapacity <= 0 {
		c.WeeklyCapacity = DefaultWeeklyCapacity
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.TransferPaymentWindow <= 0 {
		c.TransferPaymentWindow = time.Hour
	}
	if c.GatewayAbandonGrace <= 0 {
		c.GatewayAbandonGrace = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 200
	}

	return c
}

// Shipping holds checkout shipping prices in minor units.
type Shipping struct {
	DeliveryCostCents     int64
	FreeDeliveryFromCents int64
}

func LoadShipping() Shipping {
	return Shipping{
		DeliveryCostCents:     viper.GetInt64("shipping.delivery_cost_cents"),
		FreeDeliveryFromCents: viper.GetInt64("shipping.free_delivery_from_cents"),
	}
}

// BankTransfer holds the account details sent to customers paying by transfer.
type BankTransfer struct {
	Holder string
	Bank   string
	CBU    string
	Alias  string
}

func LoadBankTransfer() BankTransfer {
	return BankTransfer{
		Holder: viper.GetString("bank_transfer.holder"),
		Bank:   viper.GetString("bank_transfer.bank"),
		CBU:    viper.GetString("bank_transfer.cbu"),
		Alias:  viper.GetString("bank_transfer.alias"),
	}
}

// Notifications holds the broker routing and the recipient of administrator emails.
type Notifications struct {
	Exchange       string
	RoutingKey     string
	Queue          string
	PublishTimeout time.Duration
	AdminEmail     string
}

func LoadNotifications() Notifications {
	cfg := Notifications{
		Exchange:       viper.GetString("notifications.exchange"),
		RoutingKey:     viper.GetString("notifications.routing_key"),
		Queue:          viper.GetString("notifications.queue"),
		PublishTimeout: viper.GetDuration("notifications.publish_timeout"),
		AdminEmail:     viper.GetString("notifications.admin_email"),
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.Queue
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	return cfg
}
