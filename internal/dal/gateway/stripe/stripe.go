package stripe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/spf13/viper"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const metadataOrderCode = "order_code"

const (
	eventSessionCompleted      = "checkout.session.completed"
	eventSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	eventIntentSucceeded       = "payment_intent.succeeded"
)

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type paymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Config configures the Stripe gateway.
type Config struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

// Gateway implements checkout sessions, webhook verification and payment lookups on Stripe.
type Gateway struct {
	sessions      sessionAPI
	intents       paymentIntentAPI
	webhookSecret string
	successURL    string
	cancelURL     string
	currency      string
}

// New creates a gateway backed by the Stripe API.
func New(cfg Config) (*Gateway, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(key, nil)

	return newGateway(cfg, sc.CheckoutSessions, sc.PaymentIntents), nil
}

func newGateway(cfg Config, sessions sessionAPI, intents paymentIntentAPI) *Gateway {
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "ars"
	}

	return &Gateway{
		sessions:      sessions,
		intents:       intents,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		currency:      currency,
	}
}

// MustNew reads STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET plus the stripe config section.
// It returns nil when no API key is configured.
func MustNew() *Gateway {
	cfg := Config{
		APIKey:        os.Getenv("STRIPE_API_KEY"),
		WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SuccessURL:    viper.GetString("stripe.success_url"),
		CancelURL:     viper.GetString("stripe.cancel_url"),
		Currency:      viper.GetString("stripe.currency"),
	}
	if cfg.APIKey == "" {
		return nil
	}
	g, err := New(cfg)
	if err != nil {
		panic(err)
	}

	return g
}

// CreateCheckoutSession creates a hosted checkout for the order total.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, o order.Order) (payment.CheckoutSession, error) {
	metadata := map[string]string{metadataOrderCode: o.Code}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(strings.ReplaceAll(g.successURL, "{ORDER_CODE}", o.Code)),
		CancelURL:         stripe.String(strings.ReplaceAll(g.cancelURL, "{ORDER_CODE}", o.Code)),
		ClientReferenceID: stripe.String(o.Code),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataOrderCode: o.Code},
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(o.TotalCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Pedido " + o.Code),
					},
				},
			},
		},
	}
	if o.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(o.CustomerEmail)
	}
	params.Context = ctx

	session, err := g.sessions.New(params)
	if err != nil {
		return payment.CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	return payment.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ParseEvent verifies the Stripe-Signature header and extracts the object reference.
func (g *Gateway) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return payment.Event{}, fmt.Errorf("%w: %w", payment.ErrInvalidSignature, err)
	}

	out := payment.Event{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case eventSessionCompleted, eventSessionAsyncSucceeded, eventIntentSucceeded:
		out.Relevant = true
	}
	if event.Data != nil {
		if id, ok := event.Data.Object["id"].(string); ok {
			out.ObjectID = id
		}
	}

	return out, nil
}

// LookupPayment fetches the payment referenced by the event from the Stripe API.
func (g *Gateway) LookupPayment(ctx context.Context, ev payment.Event) (payment.Payment, error) {
	if ev.ObjectID == "" {
		return payment.Payment{}, errors.New("stripe: event has no object id")
	}

	switch ev.Type {
	case eventSessionCompleted, eventSessionAsyncSucceeded:
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		session, err := g.sessions.Get(ev.ObjectID, params)
		if err != nil {
			return payment.Payment{}, fmt.Errorf("stripe: get checkout session: %w", err)
		}

		p := payment.Payment{
			ID:          session.ID,
			OrderCode:   session.Metadata[metadataOrderCode],
			Approved:    session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
			AmountCents: session.AmountTotal,
			Currency:    string(session.Currency),
		}
		if p.OrderCode == "" {
			p.OrderCode = session.ClientReferenceID
		}
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			p.ID = session.PaymentIntent.ID
		}

		return p, nil
	case eventIntentSucceeded:
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		intent, err := g.intents.Get(ev.ObjectID, params)
		if err != nil {
			return payment.Payment{}, fmt.Errorf("stripe: get payment intent: %w", err)
		}

		return payment.Payment{
			ID:          intent.ID,
			OrderCode:   intent.Metadata[metadataOrderCode],
			Approved:    intent.Status == stripe.PaymentIntentStatusSucceeded,
			AmountCents: intent.AmountReceived,
			Currency:    string(intent.Currency),
		}, nil
	default:
		return payment.Payment{}, fmt.Errorf("stripe: unsupported event type %q", ev.Type)
	}
}
