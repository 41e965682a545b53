package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/corray333/labshop/internal/service/models/currency"
	"github.com/corray333/labshop/internal/service/models/orderitem"
)

// PaymentMethod is how the customer pays for the order.
type PaymentMethod string

const (
	PaymentMethodGateway      PaymentMethod = "gateway"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

var ErrInvalidPaymentMethod = errors.New("invalid payment method")

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentMethodGateway:
		return PaymentMethodGateway, nil
	case PaymentMethodBankTransfer:
		return PaymentMethodBankTransfer, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// InitialState returns the state an order paid with m starts in.
func (m PaymentMethod) InitialState() State {
	if m == PaymentMethodBankTransfer {
		return StatePendingPaymentTransfer
	}

	return StatePendingPaymentGateway
}

// ShippingOption is how the order reaches the customer.
type ShippingOption string

const (
	ShippingPickup   ShippingOption = "pickup"
	ShippingDelivery ShippingOption = "delivery"
)

// ConfirmationSource names the channel that confirmed a payment.
type ConfirmationSource string

const (
	SourceWebhook       ConfirmationSource = "webhook"
	SourceAdminConfirm  ConfirmationSource = "admin_confirm"
	SourceAdminSetState ConfirmationSource = "admin_set_state"
)

var ErrTotalsMismatch = errors.New("order totals do not add up")

// Order represents an order in the system.
type Order struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	CustomerID string `json:"customerId"`
	// CustomerEmail and CustomerName are snapshotted at checkout for notifications.
	CustomerEmail   string         `json:"customerEmail"`
	CustomerName    string         `json:"customerName"`
	ShippingOption  ShippingOption `json:"shippingOption"`
	ShippingAddress string         `json:"shippingAddress,omitempty"`

	Currency      currency.Currency `json:"currency"`
	SubtotalCents int64             `json:"subtotalCents"`
	ShippingCents int64             `json:"shippingCents"`
	DiscountCents int64             `json:"discountCents"`
	TotalCents    int64             `json:"totalCents"`
	CouponCode    *string           `json:"couponCode,omitempty"`

	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	State           State         `json:"state"`
	PaymentDeadline *time.Time    `json:"paymentDeadline,omitempty"`
	// ConfirmationNotifiedAt guards the confirmed side effects; it is set by the same
	// conditional write that moves the order into confirmed.
	ConfirmationNotifiedAt *time.Time          `json:"confirmationNotifiedAt,omitempty"`
	ConfirmedAt            *time.Time          `json:"confirmedAt,omitempty"`
	ConfirmedVia           *ConfirmationSource `json:"confirmedVia,omitempty"`
	GatewayPaymentID       *string             `json:"gatewayPaymentId,omitempty"`
	TransferProofNote      *string             `json:"transferProofNote,omitempty"`
	TransferProofAt        *time.Time          `json:"transferProofAt,omitempty"`
	ExpiredAt              *time.Time          `json:"expiredAt,omitempty"`
	CancelledAt            *time.Time          `json:"cancelledAt,omitempty"`

	// PromisedDate is stamped once at creation and never recomputed.
	PromisedDate   time.Time `json:"promisedDate"`
	Carrier        *string   `json:"carrier,omitempty"`
	TrackingNumber *string   `json:"trackingNumber,omitempty"`

	CreatedAt  time.Time             `json:"createdAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
	OrderItems []orderitem.OrderItem `json:"orderItems"`
}

// ComputeTotal sets TotalCents from the other monetary fields.
func (o *Order) ComputeTotal() {
	o.TotalCents = o.SubtotalCents + o.ShippingCents - o.DiscountCents
}

// ValidateTotals checks the monetary invariant and the frozen line subtotals.
func (o *Order) ValidateTotals() error {
	if o.SubtotalCents < 0 || o.ShippingCents < 0 || o.DiscountCents < 0 {
		return fmt.Errorf("%w: negative amount", ErrTotalsMismatch)
	}
	if o.DiscountCents > o.SubtotalCents {
		return fmt.Errorf("%w: discount %d exceeds subtotal %d", ErrTotalsMismatch, o.DiscountCents, o.SubtotalCents)
	}
	if o.TotalCents != o.SubtotalCents+o.ShippingCents-o.DiscountCents {
		return fmt.Errorf("%w: total %d != %d + %d - %d",
			ErrTotalsMismatch, o.TotalCents, o.SubtotalCents, o.ShippingCents, o.DiscountCents)
	}
	if len(o.OrderItems) > 0 {
		var sum int64
		for _, item := range o.OrderItems {
			sum += item.SubtotalCents
		}
		if sum != o.SubtotalCents {
			return fmt.Errorf("%w: items sum %d != subtotal %d", ErrTotalsMismatch, sum, o.SubtotalCents)
		}
	}

	return nil
}

// IsOwnedBy reports whether customerID placed the order.
func (o *Order) IsOwnedBy(customerID string) bool {
	return customerID != "" && o.CustomerID == customerID
}
