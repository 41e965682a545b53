package coupon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is how a coupon discount is computed.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// Coupon is a discount code. UsageCount is only incremented on payment confirmation.
type Coupon struct {
	ID   int64
	Code string
	Kind Kind
	// Value is a percentage for KindPercentage and minor currency units for KindFixed.
	Value           decimal.Decimal
	MinimumPurchase *int64
	ExpiresAt       *time.Time
	UsageCap        *int
	UsageCount      int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeCode returns the canonical case-insensitive form of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Reason explains why a code was rejected.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonInactive       Reason = "inactive"
	ReasonExpired        Reason = "expired"
	ReasonUsageExhausted Reason = "usage_exhausted"
	ReasonBelowMinimum   Reason = "below_minimum"
)

// Validation is the outcome of checking a code against a subtotal.
type Validation struct {
	Valid         bool   `json:"valid"`
	Code          string `json:"code"`
	DiscountCents int64  `json:"discountCents"`
	Reason        Reason `json:"reason,omitempty"`
}
