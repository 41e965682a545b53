package payment

import "errors"

// ErrInvalidSignature is returned when a webhook payload fails signature verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutSession is a hosted payment page created for a gateway order.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a verified gateway notification. Its contents are never trusted beyond the
// object reference; the payment itself is looked up through the gateway API.
type Event struct {
	ID       string
	Type     string
	ObjectID string
	// Relevant is false for event types that never confirm a payment.
	Relevant bool
}

// Payment is the gateway's authoritative view of a payment.
type Payment struct {
	ID          string
	OrderCode   string
	Approved    bool
	AmountCents int64
	Currency    string
}
