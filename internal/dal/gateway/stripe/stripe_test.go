package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testSecret = "whsec_test"

type fakeSessions struct {
	created  *stripe.CheckoutSessionParams
	sessions map[string]*stripe.CheckoutSession
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params

	return &stripe.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.test/cs_new"}, nil
}

func (f *fakeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("no such session")
	}

	return s, nil
}

type fakeIntents struct {
	intents map[string]*stripe.PaymentIntent
}

func (f *fakeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	pi, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment intent")
	}

	return pi, nil
}

func newTestGateway() (*Gateway, *fakeSessions, *fakeIntents) {
	sessions := &fakeSessions{sessions: map[string]*stripe.CheckoutSession{}}
	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{}}
	g := newGateway(Config{
		WebhookSecret: testSecret,
		SuccessURL:    "https://labshop.test/orders/{ORDER_CODE}?paid=1",
		CancelURL:     "https://labshop.test/orders/{ORDER_CODE}",
	}, sessions, intents)

	return g, sessions, intents
}

func sign(payload string, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})

	return signed.Header
}

func TestCreateCheckoutSession(t *testing.T) {
	g, sessions, _ := newTestGateway()

	session, err := g.CreateCheckoutSession(context.Background(), order.Order{
		Code:          "P-ABC123",
		CustomerEmail: "ana@example.com",
		TotalCents:    4500,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.CheckoutSession{ID: "cs_new", URL: "https://checkout.stripe.test/cs_new"}, session)

	params := sessions.created
	require.NotNil(t, params)
	assert.Equal(t, "https://labshop.test/orders/P-ABC123?paid=1", *params.SuccessURL)
	assert.Equal(t, "P-ABC123", *params.ClientReferenceID)
	assert.Equal(t, "P-ABC123", params.Metadata[metadataOrderCode])
	assert.Equal(t, "ana@example.com", *params.CustomerEmail)
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, int64(4500), *params.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "ars", *params.LineItems[0].PriceData.Currency)
}

func TestParseEvent(t *testing.T) {
	g, _, _ := newTestGateway()
	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed",` +
		`"data":{"object":{"id":"cs_1","object":"checkout.session"}}}`

	ev, err := g.ParseEvent([]byte(payload), sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, payment.Event{ID: "evt_1", Type: eventSessionCompleted, ObjectID: "cs_1", Relevant: true}, ev)

	other := `{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`
	ev, err = g.ParseEvent([]byte(other), sign(other, testSecret))
	require.NoError(t, err)
	assert.False(t, ev.Relevant)
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	g, _, _ := newTestGateway()
	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`

	_, err := g.ParseEvent([]byte(payload), sign(payload, "whsec_other"))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	_, err = g.ParseEvent([]byte(payload), "")
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestLookupPaymentFromSession(t *testing.T) {
	g, sessions, _ := newTestGateway()
	sessions.sessions["cs_1"] = &stripe.CheckoutSession{
		ID:                "cs_1",
		ClientReferenceID: "P-ABC123",
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:       4500,
		Currency:          stripe.CurrencyARS,
		PaymentIntent:     &stripe.PaymentIntent{ID: "pi_1"},
	}
	sessions.sessions["cs_2"] = &stripe.CheckoutSession{
		ID:            "cs_2",
		Metadata:      map[string]string{metadataOrderCode: "P-XYZ789"},
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	}

	p, err := g.LookupPayment(context.Background(), payment.Event{Type: eventSessionCompleted, ObjectID: "cs_1"})
	require.NoError(t, err)
	assert.Equal(t, payment.Payment{ID: "pi_1", OrderCode: "P-ABC123", Approved: true, AmountCents: 4500, Currency: "ars"}, p)

	p, err = g.LookupPayment(context.Background(), payment.Event{Type: eventSessionAsyncSucceeded, ObjectID: "cs_2"})
	require.NoError(t, err)
	assert.Equal(t, "P-XYZ789", p.OrderCode)
	assert.False(t, p.Approved)

	_, err = g.LookupPayment(context.Background(), payment.Event{Type: eventSessionCompleted, ObjectID: "cs_missing"})
	require.Error(t, err)
}

func TestLookupPaymentFromIntent(t *testing.T) {
	g, _, intents := newTestGateway()
	intents.intents["pi_1"] = &stripe.PaymentIntent{
		ID:             "pi_1",
		Metadata:       map[string]string{metadataOrderCode: "P-ABC123"},
		Status:         stripe.PaymentIntentStatusSucceeded,
		AmountReceived: 4500,
		Currency:       stripe.CurrencyARS,
	}

	p, err := g.LookupPayment(context.Background(), payment.Event{Type: eventIntentSucceeded, ObjectID: "pi_1"})
	require.NoError(t, err)
	assert.True(t, p.Approved)
	assert.Equal(t, int64(4500), p.AmountCents)

	_, err = g.LookupPayment(context.Background(), payment.Event{Type: "charge.refunded", ObjectID: "ch_1"})
	require.Error(t, err)
	_, err = g.LookupPayment(context.Background(), payment.Event{Type: eventIntentSucceeded})
	require.Error(t, err)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{APIKey: " "})
	require.Error(t, err)
}
