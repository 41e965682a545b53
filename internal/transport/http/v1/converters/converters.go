package converters

import (
	"time"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
)

// OrderResponse is an order as returned over HTTP.
type OrderResponse struct {
	order.Order
	CustomerStatus string `json:"customerStatus"`
	PromisedDay    string `json:"promisedDay"`
}

// CustomerOrderResponse hides administrative fields from the customer view.
type CustomerOrderResponse struct {
	Code            string                   `json:"code"`
	State           order.State              `json:"state"`
	CustomerStatus  string                   `json:"customerStatus"`
	PaymentMethod   order.PaymentMethod      `json:"paymentMethod"`
	PaymentDeadline *time.Time               `json:"paymentDeadline,omitempty"`
	ShippingOption  order.ShippingOption     `json:"shippingOption"`
	SubtotalCents   int64                    `json:"subtotalCents"`
	ShippingCents   int64                    `json:"shippingCents"`
	DiscountCents   int64                    `json:"discountCents"`
	TotalCents      int64                    `json:"totalCents"`
	Currency        string                   `json:"currency"`
	CouponCode      *string                  `json:"couponCode,omitempty"`
	PromisedDay     string                   `json:"promisedDay"`
	Carrier         *string                  `json:"carrier,omitempty"`
	TrackingNumber  *string                  `json:"trackingNumber,omitempty"`
	Items           []CustomerItemResponse   `json:"items"`
	CreatedAt       time.Time                `json:"createdAt"`
	CheckoutSession *payment.CheckoutSession `json:"checkoutSession,omitempty"`
}

type CustomerItemResponse struct {
	Title          string `json:"title"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	SubtotalCents  int64  `json:"subtotalCents"`
}

func OrderToResponse(o order.Order) OrderResponse {
	return OrderResponse{
		Order:          o,
		CustomerStatus: o.State.CustomerStatus(),
		PromisedDay:    o.PromisedDate.Format(time.DateOnly),
	}
}

func OrdersToResponse(orders []order.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = OrderToResponse(o)
	}

	return out
}

func OrderToCustomerResponse(o order.Order) CustomerOrderResponse {
	items := make([]CustomerItemResponse, len(o.OrderItems))
	for i, item := range o.OrderItems {
		items[i] = CustomerItemResponse{
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  item.SubtotalCents,
		}
	}

	return CustomerOrderResponse{
		Code:            o.Code,
		State:           o.State,
		CustomerStatus:  o.State.CustomerStatus(),
		PaymentMethod:   o.PaymentMethod,
		PaymentDeadline: o.PaymentDeadline,
		ShippingOption:  o.ShippingOption,
		SubtotalCents:   o.SubtotalCents,
		ShippingCents:   o.ShippingCents,
		DiscountCents:   o.DiscountCents,
		TotalCents:      o.TotalCents,
		Currency:        o.Currency.String(),
		CouponCode:      o.CouponCode,
		PromisedDay:     o.PromisedDate.Format(time.DateOnly),
		Carrier:         o.Carrier,
		TrackingNumber:  o.TrackingNumber,
		Items:           items,
		CreatedAt:       o.CreatedAt,
	}
}
