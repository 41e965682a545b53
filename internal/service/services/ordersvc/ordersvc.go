package ordersvc

import (
	"context"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderitemrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iproductrepo"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/dal/uow"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/service/services/expirysvc"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
)

// OrderService is a service for managing orders.
type OrderService struct {
	newUOW func() UnitOfWork

	estimator estimator
	coupons   couponValidator
	payments  paymentConfirmer
	sweeper   sweeper
	notifier  notifier
	gateway   checkoutGateway

	fulfillment  config.Fulfillment
	shipping     config.Shipping
	bankTransfer config.BankTransfer
	adminEmail   string

	now      func() time.Time
	nextCode func() (string, error)
}

// UnitOfWork groups the repositories the service writes through in one transaction.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	OrderRepository() iorderrepo.IOrderRepository
	OrderItemRepository() iorderitemrepo.IOrderItemRepository
	ProductRepository() iproductrepo.IProductRepository
}

type estimator interface {
	Estimate(ctx context.Context) time.Time
}

type couponValidator interface {
	Validate(ctx context.Context, code string, subtotalCents int64) (coupon.Validation, error)
}

type paymentConfirmer interface {
	ConfirmPayment(ctx context.Context, orderID int64, source order.ConfirmationSource) (paymentsvc.ConfirmResult, error)
}

type sweeper interface {
	Sweep(ctx context.Context) (expirysvc.Result, error)
}

type notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, o order.Order) (payment.CheckoutSession, error)
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{
		fulfillment: config.Fulfillment{}.WithDefaults(),
		now:         time.Now,
		nextCode:    order.GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.newUOW == nil:
		panic("ordersvc: postgres client or unit of work factory is required")
	case s.estimator == nil, s.coupons == nil, s.payments == nil, s.sweeper == nil, s.notifier == nil:
		panic("ordersvc: estimator, coupon validator, payment, sweeper and notifier services are required")
	}

	return s
}

// WithPostgresClient sets the Postgres client for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *OrderService) {
		s.newUOW = func() UnitOfWork {
			return uow.NewUnitOfWork(pgClient)
		}
	}
}

// WithUnitOfWorkFactory replaces the storage, mostly for tests.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() UnitOfWork) option {
	return func(s *OrderService) {
		s.newUOW = factory
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithEstimator(e estimator) option {
	return func(s *OrderService) {
		s.estimator = e
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithCouponValidator(c couponValidator) option {
	return func(s *OrderService) {
		s.coupons = c
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithPaymentService(p paymentConfirmer) option {
	return func(s *OrderService) {
		s.payments = p
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithSweeper(sw sweeper) option {
	return func(s *OrderService) {
		s.sweeper = sw
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithNotifier(n notifier) option {
	return func(s *OrderService) {
		s.notifier = n
	}
}

// WithGateway enables checkout sessions for gateway orders.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithGateway(g checkoutGateway) option {
	return func(s *OrderService) {
		s.gateway = g
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithFulfillmentConfig(cfg config.Fulfillment) option {
	return func(s *OrderService) {
		s.fulfillment = cfg.WithDefaults()
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithShippingConfig(cfg config.Shipping) option {
	return func(s *OrderService) {
		s.shipping = cfg
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithBankTransferConfig(cfg config.BankTransfer) option {
	return func(s *OrderService) {
		s.bankTransfer = cfg
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithAdminEmail(email string) option {
	return func(s *OrderService) {
		s.adminEmail = email
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *OrderService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeGenerator overrides order code generation.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithCodeGenerator(next func() (string, error)) option {
	return func(s *OrderService) {
		if next != nil {
			s.nextCode = next
		}
	}
}
