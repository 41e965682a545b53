package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/service/models/product"
	"github.com/corray333/labshop/internal/service/services/capacitysvc"
	"github.com/corray333/labshop/internal/service/services/couponsvc"
	"github.com/corray333/labshop/internal/service/services/expirysvc"
	"github.com/corray333/labshop/internal/service/services/ordersvc"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
	"github.com/corray333/labshop/internal/testutil/memstore"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/middleware/idempotency"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	payments map[string]payment.Payment
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, o order.Order) (payment.CheckoutSession, error) {
	return payment.CheckoutSession{ID: "cs_" + o.Code, URL: "https://checkout.example/" + o.Code}, nil
}

// ParseEvent treats the payload as the object id of a completed checkout.
func (g *fakeGateway) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	if signature != "valid" {
		return payment.Event{}, payment.ErrInvalidSignature
	}

	return payment.Event{ID: "evt_1", Type: "checkout.session.completed", ObjectID: string(payload), Relevant: true}, nil
}

func (g *fakeGateway) LookupPayment(_ context.Context, ev payment.Event) (payment.Payment, error) {
	p, ok := g.payments[ev.ObjectID]
	if !ok {
		return payment.Payment{}, errors.New("no such payment")
	}

	return p, nil
}

type testServer struct {
	t        *testing.T
	handler  http.Handler
	store    *memstore.Store
	notifier *memstore.Notifier
	gateway  *fakeGateway
	auth     *auth.Authenticator
	ready    error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	store.AddProduct(product.Product{ID: 1, Title: "Crema facial", PriceCents: 2500, Active: true})
	store.AddCoupon(coupon.Coupon{Code: "DIEZ", Kind: coupon.KindPercentage, Value: decimal.NewFromInt(10), Active: true})

	n := &memstore.Notifier{}
	gw := &fakeGateway{payments: map[string]payment.Payment{}}
	clock := func() time.Time { return now }
	fulfillment := config.Fulfillment{TransferPaymentWindow: time.Hour}

	estimator := capacitysvc.MustNewEstimator(
		capacitysvc.WithOrderCounter(store.OrderRepository()),
		capacitysvc.WithFulfillmentConfig(fulfillment),
		capacitysvc.WithClock(clock),
	)
	coupons := couponsvc.MustNewCouponService(
		couponsvc.WithCouponRepository(store.CouponRepository()),
		couponsvc.WithClock(clock),
	)
	sweeper := expirysvc.MustNewExpiryService(
		expirysvc.WithOrderRepository(store.OrderRepository()),
		expirysvc.WithNotifier(n),
		expirysvc.WithFulfillmentConfig(fulfillment),
		expirysvc.WithClock(clock),
	)
	payments := paymentsvc.MustNewPaymentService(
		paymentsvc.WithOrderRepository(store.OrderRepository()),
		paymentsvc.WithOrderItemRepository(store.OrderItemRepository()),
		paymentsvc.WithCouponRepository(store.CouponRepository()),
		paymentsvc.WithNotifier(n),
		paymentsvc.WithGateway(gw),
		paymentsvc.WithAdminEmail("lab@example.com"),
		paymentsvc.WithClock(clock),
	)
	orders := ordersvc.MustNewOrderService(
		ordersvc.WithUnitOfWorkFactory(func() ordersvc.UnitOfWork { return store.NewUnitOfWork() }),
		ordersvc.WithEstimator(estimator),
		ordersvc.WithCouponValidator(coupons),
		ordersvc.WithPaymentService(payments),
		ordersvc.WithSweeper(sweeper),
		ordersvc.WithNotifier(n),
		ordersvc.WithGateway(gw),
		ordersvc.WithFulfillmentConfig(fulfillment),
		ordersvc.WithAdminEmail("lab@example.com"),
		ordersvc.WithClock(clock),
	)

	ts := &testServer{t: t, store: store, notifier: n, gateway: gw, auth: auth.NewAuthenticator("test-secret")}
	transport := NewHTTPTransport(Services{
		Orders:      orders,
		Payments:    payments,
		Coupons:     coupons,
		Estimator:   estimator,
		Sweeper:     sweeper,
		Idempotency: idempotency.NewMemoryStore(),
		Auth:        ts.auth,
		Ready:       func(context.Context) error { return ts.ready },
	})
	transport.RegisterRoutes()
	ts.handler = transport.Handler()

	return ts
}

func (ts *testServer) token(subject, role string) string {
	ts.t.Helper()
	token, err := ts.auth.Issue(auth.Identity{Subject: subject, Role: role, Email: subject + "@example.com"}, time.Hour)
	require.NoError(ts.t, err)

	return token
}

func (ts *testServer) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	ts.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

type orderView struct {
	Code            string                   `json:"code"`
	State           string                   `json:"state"`
	CustomerStatus  string                   `json:"customerStatus"`
	TotalCents      int64                    `json:"totalCents"`
	PromisedDay     string                   `json:"promisedDay"`
	CheckoutSession *payment.CheckoutSession `json:"checkoutSession"`
}

func checkout(method string) map[string]any {
	return map[string]any{
		"shippingOption": "pickup",
		"paymentMethod":  method,
		"couponCode":     "diez",
		"items":          []map[string]any{{"productId": 1, "quantity": 2}},
	}
}

func (ts *testServer) placeOrder(customer, method string) orderView {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/orders", ts.token(customer, ""), checkout(method))
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())

	return decode[orderView](ts.t, rec)
}

func (ts *testServer) idOf(code string) int64 {
	ts.t.Helper()
	o, err := ts.store.OrderRepository().FindByCode(context.Background(), code)
	require.NoError(ts.t, err)

	return o.ID
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil).Code)

	ts.ready = errors.New("connection refused")
	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "dependency_unavailable", decode[respond.ErrorBody](t, rec).Error)
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/delivery-estimate", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	est := decode[map[string]any](t, rec)
	assert.Equal(t, "2026-10-14", est["promisedDay"])
	assert.EqualValues(t, 0, est["occupying"])

	rec = ts.do(http.MethodPost, "/api/coupons/validate", "", map[string]any{"code": "diez", "subtotalCents": 5000})
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[coupon.Validation](t, rec)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(500), v.DiscountCents)

	rec = ts.do(http.MethodPost, "/api/coupons/validate", "", map[string]any{"code": "", "subtotalCents": 5000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutAndCustomerReads(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/api/orders", "", checkout("gateway")).Code)

	created := ts.placeOrder("cust-1", "gateway")
	assert.Equal(t, "pending_payment_gateway", created.State)
	assert.Equal(t, "awaiting_payment", created.CustomerStatus)
	assert.Equal(t, int64(4500), created.TotalCents)
	require.NotNil(t, created.CheckoutSession)
	assert.Equal(t, "cs_"+created.Code, created.CheckoutSession.ID)

	rec := ts.do(http.MethodGet, "/api/orders/"+created.Code, ts.token("cust-1", ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.Code, decode[orderView](t, rec).Code)

	rec = ts.do(http.MethodGet, "/api/orders/"+created.Code, ts.token("cust-2", ""), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[respond.ErrorBody](t, rec).Error)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/orders/P-ZZZZZZ", ts.token("cust-1", ""), nil).Code)

	rec = ts.do(http.MethodPost, "/api/orders/"+created.Code+"/payment-session", ts.token("cust-1", ""), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCheckoutValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token("cust-1", "")

	body := checkout("cash")
	rec := ts.do(http.MethodPost, "/api/orders", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[respond.ErrorBody](t, rec).Error)

	rec = ts.do(http.MethodPost, "/api/orders", token, `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = checkout("gateway")
	body["items"] = []map[string]any{{"title": "Gift wrap", "quantity": 1, "unitPriceCents": 100}}
	rec = ts.do(http.MethodPost, "/api/orders", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "customers cannot add manual lines")

	assert.Zero(t, ts.store.OrderCount())
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token("cust-1", "")

	first := ts.do(http.MethodPost, "/api/orders", token, checkout("bank_transfer"), idempotency.HeaderName, "attempt-1")
	second := ts.do(http.MethodPost, "/api/orders", token, checkout("bank_transfer"), idempotency.HeaderName, "attempt-1")

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotency.ReplayHeaderName))
	assert.Equal(t, decode[orderView](t, first).Code, decode[orderView](t, second).Code)
	assert.Equal(t, 1, ts.store.OrderCount())
	assert.Len(t, ts.notifier.ByKind(notification.KindOrderPlaced), 1)
}

func TestTransferLifecycle(t *testing.T) {
	ts := newTestServer(t)
	created := ts.placeOrder("cust-1", "bank_transfer")
	customer := ts.token("cust-1", "")
	admin := ts.token("staff-1", auth.RoleAdmin)

	rec := ts.do(http.MethodPost, "/api/orders/"+created.Code+"/transfer-proof", customer, map[string]any{"note": "Transferí desde Banco Galicia"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "payment_under_review", decode[orderView](t, rec).CustomerStatus)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, "/api/admin/orders", customer, nil).Code)

	rec = ts.do(http.MethodGet, "/api/admin/orders?state=transfer_proof_submitted", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Orders []struct {
			ID   int64  `json:"id"`
			Code string `json:"code"`
		} `json:"orders"`
	}](t, rec)
	require.Len(t, list.Orders, 1)
	id := list.Orders[0].ID
	assert.Equal(t, created.Code, list.Orders[0].Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/admin/orders?state=bogus", admin, nil).Code)

	path := "/api/admin/orders/" + strconv.FormatInt(id, 10)
	rec = ts.do(http.MethodPost, path+"/confirm", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[map[string]any](t, rec)["outcome"])

	rec = ts.do(http.MethodPost, path+"/confirm", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_confirmed", decode[map[string]any](t, rec)["outcome"])
	assert.Equal(t, 1, ts.store.Coupon("DIEZ").UsageCount)

	rec = ts.do(http.MethodPut, path+"/state", admin, map[string]any{"state": "in_production"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPut, path+"/state", admin, map[string]any{"state": "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["alreadyConfirmed"])

	rec = ts.do(http.MethodPut, path+"/state", admin, map[string]any{"state": "expired"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPut, path+"/state", admin, map[string]any{"state": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/admin/orders/abc", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/admin/orders/999", admin, nil).Code)
}

func TestAdminCancelThenConfirmConflicts(t *testing.T) {
	ts := newTestServer(t)
	created := ts.placeOrder("cust-1", "bank_transfer")
	admin := ts.token("staff-1", auth.RoleAdmin)
	path := "/api/admin/orders/" + strconv.FormatInt(ts.idOf(created.Code), 10)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, path+"/state", admin, map[string]any{"state": "cancelled"}).Code)

	rec := ts.do(http.MethodPost, path+"/confirm", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[respond.ErrorBody](t, rec).Error)
}

func TestManualOrderAndSweep(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.token("staff-1", auth.RoleAdmin)

	body := checkout("bank_transfer")
	body["items"] = []map[string]any{{"title": "Kit a medida", "quantity": 1, "unitPriceCents": 8000}}
	rec := ts.do(http.MethodPost, "/api/admin/orders", admin, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "manual orders name the customer")

	body["customerId"] = "cust-9"
	body["email"] = "cliente@example.com"
	rec = ts.do(http.MethodPost, "/api/admin/orders", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(7200), decode[orderView](t, rec).TotalCents)

	rec = ts.do(http.MethodPost, "/api/admin/orders/sweep", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, expirysvc.Result{}, decode[expirysvc.Result](t, rec))
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	created := ts.placeOrder("cust-1", "gateway")
	ts.gateway.payments["cs_1"] = payment.Payment{
		ID:          "pi_1",
		OrderCode:   created.Code,
		Approved:    true,
		AmountCents: created.TotalCents,
		Currency:    "ars",
	}

	rec := ts.do(http.MethodPost, "/api/webhooks/stripe", "", "cs_1", "Stripe-Signature", "forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for range 2 {
		rec = ts.do(http.MethodPost, "/api/webhooks/stripe", "", "cs_1", "Stripe-Signature", "valid")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode[map[string]bool](t, rec)["received"])
	}

	stored := ts.store.Order(ts.idOf(created.Code))
	assert.Equal(t, order.StateConfirmed, stored.State)
	require.NotNil(t, stored.GatewayPaymentID)
	assert.Equal(t, "pi_1", *stored.GatewayPaymentID)
	assert.Len(t, ts.notifier.ByKind(notification.KindPaymentConfirmed), 1)

	rec = ts.do(http.MethodPost, "/api/webhooks/stripe", "", "cs_unknown", "Stripe-Signature", "valid")
	assert.Equal(t, http.StatusOK, rec.Code, "lookup failures are acknowledged")
}
