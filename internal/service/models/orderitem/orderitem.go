package orderitem

import (
	"time"
)

// OrderItem represents a line within an order. Prices are frozen at checkout.
type OrderItem struct {
	ID      int64 `json:"id"`
	OrderID int64 `json:"orderId"`
	// ProductID is nil for manually entered lines.
	ProductID      *int64    `json:"productId,omitempty"`
	Title          string    `json:"title"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unitPriceCents"`
	SubtotalCents  int64     `json:"subtotalCents"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ComputeSubtotal freezes the line subtotal from quantity and unit price.
func (i *OrderItem) ComputeSubtotal() {
	i.SubtotalCents = int64(i.Quantity) * i.UnitPriceCents
}
