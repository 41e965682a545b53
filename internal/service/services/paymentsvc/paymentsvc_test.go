package paymentsvc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/service/models/currency"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	events   map[string]payment.Event
	payments map[string]payment.Payment
}

func (g *fakeGateway) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	if signature != "valid" {
		return payment.Event{}, payment.ErrInvalidSignature
	}
	ev, ok := g.events[string(payload)]
	if !ok {
		return payment.Event{ID: "evt_other", Type: "customer.created"}, nil
	}

	return ev, nil
}

func (g *fakeGateway) LookupPayment(_ context.Context, ev payment.Event) (payment.Payment, error) {
	p, ok := g.payments[ev.ObjectID]
	if !ok {
		return payment.Payment{}, errors.New("no such payment")
	}

	return p, nil
}

type fixture struct {
	store    *memstore.Store
	notifier *memstore.Notifier
	gateway  *fakeGateway
	svc      *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	store.AddCoupon(coupon.Coupon{Code: "DIEZ", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10), Active: true})
	n := &memstore.Notifier{}
	gw := &fakeGateway{events: map[string]payment.Event{}, payments: map[string]payment.Payment{}}

	svc := MustNewPaymentService(
		WithOrderRepository(store.OrderRepository()),
		WithOrderItemRepository(store.OrderItemRepository()),
		WithCouponRepository(store.CouponRepository()),
		WithNotifier(n),
		WithGateway(gw),
		WithAdminEmail("lab@example.com"),
		WithClock(func() time.Time { return now }),
	)

	return &fixture{store: store, notifier: n, gateway: gw, svc: svc}
}

func (f *fixture) putOrder(state order.State, mutate ...func(*order.Order)) order.Order {
	code := "DIEZ"
	deadline := now.Add(time.Hour)
	o := order.Order{
		Code:            "P-" + strings.ToUpper(string(state[:3])) + "001",
		CustomerID:      "cust-1",
		CustomerEmail:   "ana@example.com",
		Currency:        currency.CurrencyARS,
		SubtotalCents:   5000,
		DiscountCents:   500,
		TotalCents:      4500,
		CouponCode:      &code,
		PaymentMethod:   order.PaymentMethodBankTransfer,
		State:           state,
		PaymentDeadline: &deadline,
		CreatedAt:       now.Add(-10 * time.Minute),
	}
	for _, fn := range mutate {
		fn(&o)
	}

	return f.store.PutOrder(o)
}

func TestConfirmPaymentOnce(t *testing.T) {
	f := newFixture(t)
	o := f.putOrder(order.StatePendingPaymentTransfer)

	first, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.SourceAdminConfirm)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, first.Outcome)
	assert.Equal(t, order.StateConfirmed, first.Order.State)
	require.NotNil(t, first.Order.ConfirmedVia)
	assert.Equal(t, order.SourceAdminConfirm, *first.Order.ConfirmedVia)

	second, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, second.Outcome)

	assert.Equal(t, 1, f.store.Coupon("DIEZ").UsageCount)
	assert.Len(t, f.notifier.ByKind(notification.KindPaymentConfirmed), 1)
	assert.Len(t, f.notifier.ByKind(notification.KindAdminPaymentConfirmed), 1)
}

func TestConfirmPaymentConcurrentSources(t *testing.T) {
	f := newFixture(t)
	o := f.putOrder(order.StateTransferProofSubmitted)

	sources := []order.ConfirmationSource{order.SourceWebhook, order.SourceAdminConfirm, order.SourceAdminSetState}
	results := make([]ConfirmResult, 30)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.ConfirmPayment(context.Background(), o.ID, sources[i%len(sources)])
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	confirmed := 0
	for _, res := range results {
		if res.Outcome == OutcomeConfirmed {
			confirmed++
		} else {
			assert.Equal(t, OutcomeAlreadyConfirmed, res.Outcome)
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, f.store.Coupon("DIEZ").UsageCount)
	assert.Len(t, f.notifier.ByKind(notification.KindPaymentConfirmed), 1)
}

func TestConfirmPaymentRejectsClosedOrders(t *testing.T) {
	for _, state := range []order.State{order.StateCancelled, order.StateExpired} {
		t.Run(state.String(), func(t *testing.T) {
			f := newFixture(t)
			o := f.putOrder(state)

			res, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.SourceAdminConfirm)
			require.ErrorIs(t, err, errs.ErrConflict)
			assert.Equal(t, state, res.Order.State)
			assert.Equal(t, state, f.store.Order(o.ID).State)
			assert.Zero(t, f.store.Coupon("DIEZ").UsageCount)
			assert.Empty(t, f.notifier.Messages())
		})
	}
}

func TestConfirmPaymentLaterStatesAreAlreadyConfirmed(t *testing.T) {
	f := newFixture(t)
	o := f.putOrder(order.StateDispatched, func(o *order.Order) {
		stamp := now.Add(-time.Hour)
		o.ConfirmationNotifiedAt = &stamp
	})

	res, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.SourceAdminSetState)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, res.Outcome)
	assert.Equal(t, order.StateDispatched, f.store.Order(o.ID).State)
}

func TestConfirmPaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ConfirmPayment(context.Background(), 404, order.SourceAdminConfirm)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReportTransferProof(t *testing.T) {
	f := newFixture(t)
	o := f.putOrder(order.StatePendingPaymentTransfer)

	updated, err := f.svc.ReportTransferProof(context.Background(), strings.ToLower(o.Code), "cust-1", "<b>Pagué</b> desde Banco Galicia")
	require.NoError(t, err)
	assert.Equal(t, order.StateTransferProofSubmitted, updated.State)
	require.NotNil(t, updated.TransferProofNote)
	assert.Equal(t, "Pagué desde Banco Galicia", *updated.TransferProofNote)
	assert.Nil(t, updated.ConfirmedAt)

	again, err := f.svc.ReportTransferProof(context.Background(), o.Code, "cust-1", "otra vez")
	require.NoError(t, err)
	assert.Equal(t, order.StateTransferProofSubmitted, again.State)

	assert.Len(t, f.notifier.ByKind(notification.KindAdminTransferProof), 1)
	assert.Empty(t, f.notifier.ByKind(notification.KindPaymentConfirmed))
}

func TestReportTransferProofRejections(t *testing.T) {
	t.Run("other customer", func(t *testing.T) {
		f := newFixture(t)
		o := f.putOrder(order.StatePendingPaymentTransfer)

		_, err := f.svc.ReportTransferProof(context.Background(), o.Code, "cust-2", "")
		assert.ErrorIs(t, err, errs.ErrForbidden)
	})

	t.Run("deadline passed", func(t *testing.T) {
		f := newFixture(t)
		o := f.putOrder(order.StatePendingPaymentTransfer, func(o *order.Order) {
			past := now.Add(-time.Minute)
			o.PaymentDeadline = &past
		})

		_, err := f.svc.ReportTransferProof(context.Background(), o.Code, "cust-1", "")
		assert.ErrorIs(t, err, errs.ErrConflict)
		assert.Equal(t, order.StatePendingPaymentTransfer, f.store.Order(o.ID).State)
	})

	for _, state := range []order.State{order.StateExpired, order.StateConfirmed, order.StatePendingPaymentGateway} {
		t.Run(state.String(), func(t *testing.T) {
			f := newFixture(t)
			o := f.putOrder(state)

			_, err := f.svc.ReportTransferProof(context.Background(), o.Code, "cust-1", "")
			assert.ErrorIs(t, err, errs.ErrConflict)
			assert.Empty(t, f.notifier.Messages())
		})
	}

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.ReportTransferProof(context.Background(), "P-ZZZZZZ", "cust-1", "")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestReportTransferProofTruncatesNote(t *testing.T) {
	f := newFixture(t)
	o := f.putOrder(order.StatePendingPaymentTransfer)

	updated, err := f.svc.ReportTransferProof(context.Background(), o.Code, "cust-1", strings.Repeat("ñ", 1500))
	require.NoError(t, err)
	assert.Equal(t, maxProofNoteLength, len([]rune(*updated.TransferProofNote)))
}

func (f *fixture) gatewayOrder() order.Order {
	return f.putOrder(order.StatePendingPaymentGateway, func(o *order.Order) {
		o.Code = "P-GATE01"
		o.PaymentMethod = order.PaymentMethodGateway
		o.PaymentDeadline = nil
	})
}

func (f *fixture) approve(payload, objectID string, p payment.Payment) {
	f.gateway.events[payload] = payment.Event{
		ID:       "evt_" + objectID,
		Type:     "checkout.session.completed",
		ObjectID: objectID,
		Relevant: true,
	}
	f.gateway.payments[objectID] = p
}

func TestHandleGatewayEventConfirms(t *testing.T) {
	f := newFixture(t)
	o := f.gatewayOrder()
	f.approve("paid", "cs_1", payment.Payment{ID: "pi_1", OrderCode: o.Code, Approved: true, AmountCents: 4500, Currency: "ars"})

	require.NoError(t, f.svc.HandleGatewayEvent(context.Background(), []byte("paid"), "valid"))
	require.NoError(t, f.svc.HandleGatewayEvent(context.Background(), []byte("paid"), "valid"))

	stored := f.store.Order(o.ID)
	assert.Equal(t, order.StateConfirmed, stored.State)
	require.NotNil(t, stored.GatewayPaymentID)
	assert.Equal(t, "pi_1", *stored.GatewayPaymentID)
	assert.Equal(t, 1, f.store.Coupon("DIEZ").UsageCount)
	assert.Len(t, f.notifier.ByKind(notification.KindPaymentConfirmed), 1)
}

func TestHandleGatewayEventIgnoresUnverifiedPayments(t *testing.T) {
	tests := []struct {
		name string
		p    payment.Payment
	}{
		{"not approved", payment.Payment{ID: "pi_1", OrderCode: "P-GATE01", AmountCents: 4500, Currency: "ars"}},
		{"short amount", payment.Payment{ID: "pi_1", OrderCode: "P-GATE01", Approved: true, AmountCents: 4499, Currency: "ars"}},
		{"other currency", payment.Payment{ID: "pi_1", OrderCode: "P-GATE01", Approved: true, AmountCents: 4500, Currency: "usd"}},
		{"unknown order", payment.Payment{ID: "pi_1", OrderCode: "P-NOPE00", Approved: true, AmountCents: 4500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.gatewayOrder()
			f.approve("paid", "cs_1", tt.p)

			require.NoError(t, f.svc.HandleGatewayEvent(context.Background(), []byte("paid"), "valid"))
			assert.Equal(t, order.StatePendingPaymentGateway, f.store.Order(o.ID).State)
			assert.Empty(t, f.notifier.Messages())
		})
	}
}

func TestHandleGatewayEventSignature(t *testing.T) {
	f := newFixture(t)

	err := f.svc.HandleGatewayEvent(context.Background(), []byte("paid"), "forged")
	assert.ErrorIs(t, err, errs.ErrValidation)

	assert.NoError(t, f.svc.HandleGatewayEvent(context.Background(), []byte("irrelevant"), "valid"))
}

func TestHandleGatewayEventLatePayment(t *testing.T) {
	f := newFixture(t)
	o := f.gatewayOrder()
	_, _, err := f.store.OrderRepository().Transition(context.Background(), o.ID,
		[]order.State{order.StatePendingPaymentGateway}, order.StateExpired, now)
	require.NoError(t, err)
	f.approve("late", "cs_2", payment.Payment{ID: "pi_2", OrderCode: o.Code, Approved: true, AmountCents: 4500, Currency: "ARS"})

	require.NoError(t, f.svc.HandleGatewayEvent(context.Background(), []byte("late"), "valid"))

	assert.Equal(t, order.StateExpired, f.store.Order(o.ID).State)
	assert.Len(t, f.notifier.ByKind(notification.KindAdminLatePayment), 1)
	assert.Empty(t, f.notifier.ByKind(notification.KindPaymentConfirmed))
}

func TestWebhookAndAdminRace(t *testing.T) {
	f := newFixture(t)
	o := f.gatewayOrder()
	f.approve("paid", "cs_1", payment.Payment{ID: "pi_1", OrderCode: o.Code, Approved: true, AmountCents: 4500, Currency: "ars"})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, f.svc.HandleGatewayEvent(context.Background(), []byte("paid"), "valid"))

				return
			}
			_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.SourceAdminConfirm)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, order.StateConfirmed, f.store.Order(o.ID).State)
	assert.Equal(t, 1, f.store.Coupon("DIEZ").UsageCount)
	assert.Len(t, f.notifier.ByKind(notification.KindPaymentConfirmed), 1)
	assert.Len(t, f.notifier.ByKind(notification.KindAdminPaymentConfirmed), 1)
}

func TestHandleGatewayEventWithoutGateway(t *testing.T) {
	store := memstore.New()
	svc := MustNewPaymentService(
		WithOrderRepository(store.OrderRepository()),
		WithCouponRepository(store.CouponRepository()),
		WithNotifier(&memstore.Notifier{}),
	)

	err := svc.HandleGatewayEvent(context.Background(), []byte("{}"), "sig")
	assert.ErrorIs(t, err, errs.ErrDependency)
}
