package ordersvc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/service/models/product"
	"github.com/corray333/labshop/internal/service/services/couponsvc"
	"github.com/corray333/labshop/internal/service/services/expirysvc"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
	"github.com/corray333/labshop/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now      = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	promised = time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)
)

type fixedEstimator struct{}

func (fixedEstimator) Estimate(context.Context) time.Time { return promised }

type fakeCheckout struct {
	err   error
	calls int
}

func (g *fakeCheckout) CreateCheckoutSession(_ context.Context, o order.Order) (payment.CheckoutSession, error) {
	g.calls++
	if g.err != nil {
		return payment.CheckoutSession{}, g.err
	}

	return payment.CheckoutSession{ID: "cs_" + o.Code, URL: "https://checkout.example/" + o.Code}, nil
}

type fixture struct {
	store    *memstore.Store
	notifier *memstore.Notifier
	gateway  *fakeCheckout
	svc      *OrderService
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()

	store := memstore.New()
	store.AddProduct(product.Product{ID: 1, Title: "Crema facial", PriceCents: 2500, Active: true})
	store.AddProduct(product.Product{ID: 2, Title: "Serum", PriceCents: 4000, Active: true})
	store.AddProduct(product.Product{ID: 3, Title: "Discontinuado", PriceCents: 1000, Active: false})
	store.AddCoupon(coupon.Coupon{Code: "DIEZ", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10), Active: true})

	n := &memstore.Notifier{}
	gw := &fakeCheckout{}
	clock := func() time.Time { return now }
	fulfillment := config.Fulfillment{TransferPaymentWindow: time.Hour}

	coupons := couponsvc.MustNewCouponService(
		couponsvc.WithCouponRepository(store.CouponRepository()),
		couponsvc.WithClock(clock),
	)
	payments := paymentsvc.MustNewPaymentService(
		paymentsvc.WithOrderRepository(store.OrderRepository()),
		paymentsvc.WithOrderItemRepository(store.OrderItemRepository()),
		paymentsvc.WithCouponRepository(store.CouponRepository()),
		paymentsvc.WithNotifier(n),
		paymentsvc.WithAdminEmail("lab@example.com"),
		paymentsvc.WithClock(clock),
	)
	sweeper := expirysvc.MustNewExpiryService(
		expirysvc.WithOrderRepository(store.OrderRepository()),
		expirysvc.WithNotifier(n),
		expirysvc.WithFulfillmentConfig(fulfillment),
		expirysvc.WithClock(clock),
	)

	base := []option{
		WithUnitOfWorkFactory(func() UnitOfWork { return store.NewUnitOfWork() }),
		WithEstimator(fixedEstimator{}),
		WithCouponValidator(coupons),
		WithPaymentService(payments),
		WithSweeper(sweeper),
		WithNotifier(n),
		WithGateway(gw),
		WithFulfillmentConfig(fulfillment),
		WithShippingConfig(config.Shipping{DeliveryCostCents: 1500, FreeDeliveryFromCents: 10000}),
		WithBankTransferConfig(config.BankTransfer{Holder: "Lab SRL", Bank: "Banco Nación", Alias: "LAB.SHOP"}),
		WithAdminEmail("lab@example.com"),
		WithClock(clock),
	}

	svc := MustNewOrderService(append(base, opts...)...)

	return &fixture{store: store, notifier: n, gateway: gw, svc: svc}
}

func productID(id int64) *int64 { return &id }

func transferCommand() CreateOrderCommand {
	return CreateOrderCommand{
		CustomerID:     "cust-1",
		CustomerEmail:  "ana@example.com",
		CustomerName:   "Ana",
		ShippingOption: order.ShippingPickup,
		PaymentMethod:  order.PaymentMethodBankTransfer,
		Items: []ItemInput{
			{ProductID: productID(1), Quantity: 2},
			{ProductID: productID(2), Quantity: 1, Title: "ignored", UnitPriceCents: 1},
		},
	}
}

func TestCreateTransferOrder(t *testing.T) {
	f := newFixture(t)
	cmd := transferCommand()
	cmd.CouponCode = " diez "

	res, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)

	o := res.Order
	assert.True(t, order.IsValidCode(o.Code))
	assert.Equal(t, order.StatePendingPaymentTransfer, o.State)
	assert.Equal(t, int64(9000), o.SubtotalCents)
	assert.Equal(t, int64(0), o.ShippingCents)
	assert.Equal(t, int64(900), o.DiscountCents)
	assert.Equal(t, int64(8100), o.TotalCents)
	require.NotNil(t, o.CouponCode)
	assert.Equal(t, "DIEZ", *o.CouponCode)
	require.NotNil(t, o.PaymentDeadline)
	assert.Equal(t, now.Add(time.Hour), *o.PaymentDeadline)
	assert.Equal(t, promised, o.PromisedDate)
	assert.Nil(t, res.CheckoutSession)
	assert.Zero(t, f.gateway.calls)

	require.Len(t, o.OrderItems, 2)
	assert.Equal(t, "Serum", o.OrderItems[1].Title)
	assert.Equal(t, int64(4000), o.OrderItems[1].UnitPriceCents)
	assert.Len(t, f.store.Order(o.ID).OrderItems, 2)

	assert.Equal(t, 0, f.store.Coupon("DIEZ").UsageCount, "usage is counted on confirmation only")

	placed := f.notifier.ByKind(notification.KindOrderPlaced)
	require.Len(t, placed, 1)
	assert.Equal(t, "ana@example.com", placed[0].Recipient)
	bank, ok := placed[0].Data["bankTransfer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "LAB.SHOP", bank["alias"])

	admin := f.notifier.ByKind(notification.KindAdminNewOrder)
	require.Len(t, admin, 1)
	assert.Equal(t, "lab@example.com", admin[0].Recipient)
}

func TestCreateGatewayOrderOpensCheckout(t *testing.T) {
	f := newFixture(t)
	cmd := transferCommand()
	cmd.PaymentMethod = order.PaymentMethodGateway
	cmd.ShippingOption = order.ShippingDelivery
	cmd.ShippingAddress = "Av. Corrientes 1234"
	cmd.Items = []ItemInput{{ProductID: productID(1), Quantity: 1}}

	res, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, order.StatePendingPaymentGateway, res.Order.State)
	assert.Nil(t, res.Order.PaymentDeadline)
	assert.Equal(t, int64(1500), res.Order.ShippingCents)
	assert.Equal(t, int64(4000), res.Order.TotalCents)
	require.NotNil(t, res.CheckoutSession)
	assert.Equal(t, "cs_"+res.Order.Code, res.CheckoutSession.ID)
	_, hasBank := f.notifier.ByKind(notification.KindOrderPlaced)[0].Data["bankTransfer"]
	assert.False(t, hasBank)
}

func TestCreateOrderFreeDeliveryThreshold(t *testing.T) {
	f := newFixture(t)
	cmd := transferCommand()
	cmd.ShippingOption = order.ShippingDelivery
	cmd.ShippingAddress = "Av. Corrientes 1234"
	cmd.Items = []ItemInput{{ProductID: productID(1), Quantity: 4}}

	res, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Order.SubtotalCents)
	assert.Equal(t, int64(0), res.Order.ShippingCents)
}

func TestCreateOrderSurvivesCheckoutFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("gateway down")
	cmd := transferCommand()
	cmd.PaymentMethod = order.PaymentMethodGateway

	res, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Nil(t, res.CheckoutSession)
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestCreateOrderRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
	}{
		{"no customer", func(c *CreateOrderCommand) { c.CustomerID = " " }},
		{"no email", func(c *CreateOrderCommand) { c.CustomerEmail = "" }},
		{"no items", func(c *CreateOrderCommand) { c.Items = nil }},
		{"zero quantity", func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 }},
		{"unknown payment method", func(c *CreateOrderCommand) { c.PaymentMethod = "cash" }},
		{"delivery without address", func(c *CreateOrderCommand) { c.ShippingOption = order.ShippingDelivery }},
		{"unknown shipping option", func(c *CreateOrderCommand) { c.ShippingOption = "drone" }},
		{"unknown product", func(c *CreateOrderCommand) { c.Items[0].ProductID = productID(99) }},
		{"inactive product", func(c *CreateOrderCommand) { c.Items[0].ProductID = productID(3) }},
		{"manual line from customer", func(c *CreateOrderCommand) {
			c.Items = append(c.Items, ItemInput{Title: "Gift wrap", Quantity: 1, UnitPriceCents: 300})
		}},
		{"unknown coupon", func(c *CreateOrderCommand) { c.CouponCode = "NOPE" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := transferCommand()
			tt.mutate(&cmd)

			_, err := f.svc.CreateOrder(context.Background(), cmd)
			require.ErrorIs(t, err, errs.ErrValidation)
			assert.Zero(t, f.store.OrderCount())
			assert.Empty(t, f.notifier.Messages())
		})
	}
}

func TestCreateManualOrder(t *testing.T) {
	f := newFixture(t)
	cmd := transferCommand()
	cmd.Manual = true
	cmd.Items = []ItemInput{
		{ProductID: productID(1), Quantity: 1},
		{Title: " Kit personalizado ", Quantity: 2, UnitPriceCents: 1200},
	}

	res, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	require.Len(t, res.Order.OrderItems, 2)
	assert.Nil(t, res.Order.OrderItems[1].ProductID)
	assert.Equal(t, "Kit personalizado", res.Order.OrderItems[1].Title)
	assert.Equal(t, int64(2400), res.Order.OrderItems[1].SubtotalCents)
	assert.Equal(t, int64(4900), res.Order.SubtotalCents)

	cmd.Items = []ItemInput{{Title: "", Quantity: 1, UnitPriceCents: 100}}
	_, err = f.svc.CreateOrder(context.Background(), cmd)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreateOrderRetriesCodeCollision(t *testing.T) {
	codes := []string{"P-AAAAAA", "P-AAAAAA", "P-BBBBBB"}
	next := func() (string, error) {
		code := codes[0]
		codes = codes[1:]

		return code, nil
	}
	f := newFixture(t, WithCodeGenerator(next))

	first, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)
	assert.Equal(t, "P-AAAAAA", first.Order.Code)

	second, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)
	assert.Equal(t, "P-BBBBBB", second.Order.Code)
	assert.Equal(t, 2, f.store.OrderCount())
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, WithCodeGenerator(func() (string, error) { return "P-AAAAAA", nil }))
	attempts := 0
	f.store.FailInserts(func(order.Order) error {
		attempts++

		return iorderrepo.ErrDuplicateCode
	})

	_, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.ErrorIs(t, err, errs.ErrDependency)
	assert.Equal(t, maxCodeAttempts, attempts)
	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.notifier.Messages())
}

func TestCreateOrderStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailInserts(func(order.Order) error { return errors.New("connection reset") })

	_, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.ErrorIs(t, err, errs.ErrDependency)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)
	code := res.Order.Code

	got, err := f.svc.GetOrder(context.Background(), " "+code+" ", Viewer{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, got.ID)
	assert.Len(t, got.OrderItems, 2)

	_, err = f.svc.GetOrder(context.Background(), code, Viewer{CustomerID: "cust-2"})
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.svc.GetOrder(context.Background(), code, Viewer{Admin: true})
	require.NoError(t, err)

	_, err = f.svc.GetOrder(context.Background(), "P-ZZZZZZ", Viewer{CustomerID: "cust-1"})
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.GetOrder(context.Background(), "not-a-code", Viewer{CustomerID: "cust-1"})
	require.ErrorIs(t, err, errs.ErrValidation)

	byID, err := f.svc.GetOrderByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, code, byID.Code)
}

func TestListOrdersSweepsFirst(t *testing.T) {
	f := newFixture(t)
	deadline := now.Add(-time.Minute)
	overdue := f.store.PutOrder(order.Order{
		Code:            "P-OVERDU",
		CustomerID:      "cust-1",
		CustomerEmail:   "ana@example.com",
		PaymentMethod:   order.PaymentMethodBankTransfer,
		State:           order.StatePendingPaymentTransfer,
		PaymentDeadline: &deadline,
		CreatedAt:       now.Add(-2 * time.Hour),
	})
	_, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)

	expired, err := f.svc.ListOrders(context.Background(), order.QueryOrdersModel{States: []order.State{order.StateExpired}})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)

	all, err := f.svc.ListOrders(context.Background(), order.QueryOrdersModel{Limit: 1000, Offset: -3})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.svc.ListOrders(context.Background(), order.QueryOrdersModel{CustomerIds: []string{"nobody"}})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSetState(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)
	id := res.Order.ID

	_, err = f.svc.SetState(context.Background(), id, order.StateInProduction)
	require.ErrorIs(t, err, errs.ErrConflict, "production needs a confirmed payment")

	confirmed, err := f.svc.SetState(context.Background(), id, order.StateConfirmed)
	require.NoError(t, err)
	assert.False(t, confirmed.AlreadyConfirmed)
	assert.Equal(t, order.StateConfirmed, confirmed.Order.State)
	require.NotNil(t, confirmed.Order.ConfirmedVia)
	assert.Equal(t, order.SourceAdminSetState, *confirmed.Order.ConfirmedVia)

	again, err := f.svc.SetState(context.Background(), id, order.StateConfirmed)
	require.NoError(t, err)
	assert.True(t, again.AlreadyConfirmed)
	assert.Len(t, f.notifier.ByKind(notification.KindPaymentConfirmed), 1)

	for _, st := range []order.State{order.StateInProduction, order.StateReadyForDispatch, order.StateDispatched} {
		moved, err := f.svc.SetState(context.Background(), id, st)
		require.NoError(t, err, st)
		assert.Equal(t, st, moved.Order.State)
	}
	assert.Len(t, f.notifier.ByKind(notification.KindOrderStatusChanged), 3)

	_, err = f.svc.SetState(context.Background(), id, order.StateInProduction)
	require.ErrorIs(t, err, errs.ErrConflict, "stages never move backwards")

	delivered, err := f.svc.SetState(context.Background(), id, order.StateDelivered)
	require.NoError(t, err)
	assert.Equal(t, order.StateDelivered, delivered.Order.State)

	_, err = f.svc.SetState(context.Background(), id, order.StateCancelled)
	require.ErrorIs(t, err, errs.ErrConflict, "delivered is terminal")
}

func TestSetStateCancel(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)
	id := res.Order.ID

	cancelled, err := f.svc.SetState(context.Background(), id, order.StateCancelled)
	require.NoError(t, err)
	assert.Equal(t, order.StateCancelled, cancelled.Order.State)
	assert.NotNil(t, cancelled.Order.CancelledAt)
	require.Len(t, f.notifier.ByKind(notification.KindOrderCancelled), 1)

	_, err = f.svc.SetState(context.Background(), id, order.StateConfirmed)
	require.ErrorIs(t, err, errs.ErrConflict)
	_, err = f.svc.SetState(context.Background(), id, order.StateCancelled)
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestSetStateRejectsUnsettableTargets(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)

	for _, st := range []order.State{
		order.StateExpired,
		order.StatePendingPaymentGateway,
		order.StatePendingPaymentTransfer,
		order.StateTransferProofSubmitted,
	} {
		_, err := f.svc.SetState(context.Background(), res.Order.ID, st)
		require.ErrorIs(t, err, errs.ErrValidation, st)
	}

	_, err = f.svc.SetState(context.Background(), 404, order.StateCancelled)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreatePaymentSession(t *testing.T) {
	f := newFixture(t)
	cmd := transferCommand()
	cmd.PaymentMethod = order.PaymentMethodGateway
	gatewayOrder, err := f.svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	transferOrder, err := f.svc.CreateOrder(context.Background(), transferCommand())
	require.NoError(t, err)

	session, err := f.svc.CreatePaymentSession(context.Background(), gatewayOrder.Order.Code, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "cs_"+gatewayOrder.Order.Code, session.ID)

	_, err = f.svc.CreatePaymentSession(context.Background(), gatewayOrder.Order.Code, "cust-2")
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.svc.CreatePaymentSession(context.Background(), transferOrder.Order.Code, "cust-1")
	require.ErrorIs(t, err, errs.ErrConflict)

	f.gateway.err = errors.New("gateway down")
	_, err = f.svc.CreatePaymentSession(context.Background(), gatewayOrder.Order.Code, "cust-1")
	require.ErrorIs(t, err, errs.ErrDependency)
}

func TestCreatePaymentSessionWithoutGateway(t *testing.T) {
	f := newFixture(t, WithGateway(nil))

	_, err := f.svc.CreatePaymentSession(context.Background(), "P-AAAAAA", "cust-1")
	require.ErrorIs(t, err, errs.ErrDependency)
}

func TestMustNewOrderServicePanicsWithoutCollaborators(t *testing.T) {
	assert.Panics(t, func() { MustNewOrderService() })
	assert.Panics(t, func() {
		store := memstore.New()
		MustNewOrderService(WithUnitOfWorkFactory(func() UnitOfWork { return store.NewUnitOfWork() }))
	})
}
