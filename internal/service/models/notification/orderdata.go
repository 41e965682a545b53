package notification

import (
	"time"

	"github.com/corray333/labshop/internal/service/models/order"
)

// OrderData is the template payload shared by every order email.
func OrderData(o order.Order) map[string]any {
	data := map[string]any{
		"orderId":         o.ID,
		"orderCode":       o.Code,
		"customerName":    o.CustomerName,
		"customerEmail":   o.CustomerEmail,
		"state":           o.State.String(),
		"customerStatus":  o.State.CustomerStatus(),
		"paymentMethod":   string(o.PaymentMethod),
		"subtotalCents":   o.SubtotalCents,
		"shippingCents":   o.ShippingCents,
		"discountCents":   o.DiscountCents,
		"totalCents":      o.TotalCents,
		"currency":        o.Currency.String(),
		"promisedDate":    o.PromisedDate.Format(time.DateOnly),
		"shippingOption":  string(o.ShippingOption),
		"shippingAddress": o.ShippingAddress,
	}
	if o.CouponCode != nil {
		data["couponCode"] = *o.CouponCode
	}
	if o.PaymentDeadline != nil {
		data["paymentDeadline"] = o.PaymentDeadline.Format(time.RFC3339)
	}

	items := make([]map[string]any, 0, len(o.OrderItems))
	for _, item := range o.OrderItems {
		items = append(items, map[string]any{
			"title":          item.Title,
			"quantity":       item.Quantity,
			"unitPriceCents": item.UnitPriceCents,
			"subtotalCents":  item.SubtotalCents,
		})
	}
	data["items"] = items

	return data
}
