package ordersvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/currency"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/orderitem"
	"github.com/corray333/labshop/internal/service/models/payment"
	"go.opentelemetry.io/otel"
)

const maxCodeAttempts = 5

// ItemInput is one requested line. Product lines take title and price from the catalog;
// manual lines (no product) carry their own.
type ItemInput struct {
	ProductID      *int64
	Title          string
	Quantity       int
	UnitPriceCents int64
}

// CreateOrderCommand is a checkout submission.
type CreateOrderCommand struct {
	CustomerID      string
	CustomerEmail   string
	CustomerName    string
	ShippingOption  order.ShippingOption
	ShippingAddress string
	PaymentMethod   order.PaymentMethod
	CouponCode      string
	Items           []ItemInput
	// Manual marks an administrator-entered order, which may contain manual lines.
	Manual bool
}

// CreateOrderResult is the stored order plus the hosted checkout for gateway orders.
type CreateOrderResult struct {
	Order           order.Order              `json:"order"`
	CheckoutSession *payment.CheckoutSession `json:"checkoutSession,omitempty"`
}

// CreateOrder prices, stamps and stores a new order, then enqueues the placement emails.
func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.CreateOrder")
	defer span.End()

	if err := validateCommand(cmd); err != nil {
		return CreateOrderResult{}, err
	}

	items, err := s.priceItems(ctx, cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	now := s.now().UTC()
	o := order.Order{
		CustomerID:      cmd.CustomerID,
		CustomerEmail:   strings.TrimSpace(cmd.CustomerEmail),
		CustomerName:    strings.TrimSpace(cmd.CustomerName),
		ShippingOption:  cmd.ShippingOption,
		ShippingAddress: strings.TrimSpace(cmd.ShippingAddress),
		Currency:        currency.CurrencyARS,
		PaymentMethod:   cmd.PaymentMethod,
		State:           cmd.PaymentMethod.InitialState(),
		CreatedAt:       now,
		UpdatedAt:       now,
		OrderItems:      items,
	}
	for _, item := range items {
		o.SubtotalCents += item.SubtotalCents
	}
	o.ShippingCents = s.shippingCost(o.ShippingOption, o.SubtotalCents)

	if code := strings.TrimSpace(cmd.CouponCode); code != "" {
		validation, err := s.coupons.Validate(ctx, code, o.SubtotalCents)
		if err != nil {
			return CreateOrderResult{}, err
		}
		if !validation.Valid {
			return CreateOrderResult{}, fmt.Errorf("%w: coupon %s rejected: %s", errs.ErrValidation, validation.Code, validation.Reason)
		}
		o.CouponCode = &validation.Code
		o.DiscountCents = validation.DiscountCents
	}
	o.ComputeTotal()

	if o.PaymentMethod == order.PaymentMethodBankTransfer {
		deadline := now.Add(s.fulfillment.TransferPaymentWindow)
		o.PaymentDeadline = &deadline
	}
	o.PromisedDate = s.estimator.Estimate(ctx)

	if err := o.ValidateTotals(); err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	created, err := s.insertWithCode(ctx, o)
	if err != nil {
		return CreateOrderResult{}, err
	}

	slog.Info("Order created",
		"order_id", created.ID,
		"order_code", created.Code,
		"payment_method", created.PaymentMethod,
		"total_cents", created.TotalCents,
	)

	s.notifyPlaced(context.WithoutCancel(ctx), created)

	result := CreateOrderResult{Order: created}
	if created.PaymentMethod == order.PaymentMethodGateway && s.gateway != nil {
		session, err := s.gateway.CreateCheckoutSession(ctx, created)
		if err != nil {
			slog.Error("Failed to create checkout session", "order_code", created.Code, "error", err)
		} else {
			result.CheckoutSession = &session
		}
	}

	return result, nil
}

func validateCommand(cmd CreateOrderCommand) error {
	switch {
	case strings.TrimSpace(cmd.CustomerID) == "":
		return fmt.Errorf("%w: customer is required", errs.ErrValidation)
	case strings.TrimSpace(cmd.CustomerEmail) == "":
		return fmt.Errorf("%w: customer email is required", errs.ErrValidation)
	case len(cmd.Items) == 0:
		return fmt.Errorf("%w: order has no items", errs.ErrValidation)
	}

	switch cmd.PaymentMethod {
	case order.PaymentMethodGateway, order.PaymentMethodBankTransfer:
	default:
		return fmt.Errorf("%w: %w", errs.ErrValidation, order.ErrInvalidPaymentMethod)
	}

	switch cmd.ShippingOption {
	case order.ShippingPickup:
	case order.ShippingDelivery:
		if strings.TrimSpace(cmd.ShippingAddress) == "" {
			return fmt.Errorf("%w: delivery requires a shipping address", errs.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown shipping option %q", errs.ErrValidation, cmd.ShippingOption)
	}

	for i, item := range cmd.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", errs.ErrValidation, i+1)
		}
		if item.ProductID != nil {
			continue
		}
		if !cmd.Manual {
			return fmt.Errorf("%w: item %d has no product", errs.ErrValidation, i+1)
		}
		if strings.TrimSpace(item.Title) == "" || item.UnitPriceCents < 0 {
			return fmt.Errorf("%w: manual item %d needs a title and a non-negative price", errs.ErrValidation, i+1)
		}
	}

	return nil
}

// priceItems freezes title and unit price for every line.
func (s *OrderService) priceItems(ctx context.Context, cmd CreateOrderCommand) ([]orderitem.OrderItem, error) {
	ids := make([]int64, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		if item.ProductID != nil {
			ids = append(ids, *item.ProductID)
		}
	}

	work := s.newUOW()
	products, err := work.ProductRepository().FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}
	byID := make(map[int64]int, len(products))
	for i, p := range products {
		byID[p.ID] = i
	}

	now := s.now().UTC()
	items := make([]orderitem.OrderItem, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		item := orderitem.OrderItem{
			ProductID:      in.ProductID,
			Title:          strings.TrimSpace(in.Title),
			Quantity:       in.Quantity,
			UnitPriceCents: in.UnitPriceCents,
			CreatedAt:      now,
		}
		if in.ProductID != nil {
			idx, ok := byID[*in.ProductID]
			if !ok {
				return nil, fmt.Errorf("%w: product %d does not exist", errs.ErrValidation, *in.ProductID)
			}
			p := products[idx]
			if !p.Active {
				return nil, fmt.Errorf("%w: product %d is not available", errs.ErrValidation, p.ID)
			}
			item.Title = p.Title
			item.UnitPriceCents = p.PriceCents
		}
		item.ComputeSubtotal()
		items = append(items, item)
	}

	return items, nil
}

func (s *OrderService) shippingCost(option order.ShippingOption, subtotalCents int64) int64 {
	if option != order.ShippingDelivery {
		return 0
	}
	if s.shipping.FreeDeliveryFromCents > 0 && subtotalCents >= s.shipping.FreeDeliveryFromCents {
		return 0
	}

	return s.shipping.DeliveryCostCents
}

// insertWithCode stores the order and its items in one transaction, drawing a new code
// when the unique constraint rejects the previous one.
func (s *OrderService) insertWithCode(ctx context.Context, o order.Order) (order.Order, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.nextCode()
		if err != nil {
			return order.Order{}, err
		}
		o.Code = code

		created, err := s.insertOnce(ctx, o)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, iorderrepo.ErrDuplicateCode) {
			return order.Order{}, err
		}

		slog.Warn("Order code collision, retrying", "order_code", code, "attempt", attempt)
	}

	return order.Order{}, fmt.Errorf("%w: could not allocate a unique order code", errs.ErrDependency)
}

func (s *OrderService) insertOnce(ctx context.Context, o order.Order) (order.Order, error) {
	work := s.newUOW()
	if err := work.Begin(ctx); err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}
	defer func() {
		if err := work.Rollback(ctx); err != nil {
			slog.Error("Failed to roll back order transaction", "error", err)
		}
	}()

	created, err := work.OrderRepository().Insert(ctx, o)
	if err != nil {
		if errors.Is(err, iorderrepo.ErrDuplicateCode) || errors.Is(err, errs.ErrValidation) {
			return order.Order{}, err
		}

		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	items := make([]orderitem.OrderItem, len(o.OrderItems))
	for i, item := range o.OrderItems {
		item.OrderID = created.ID
		items[i] = item
	}
	items, err = work.OrderItemRepository().BulkInsert(ctx, items)
	if err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	if err := work.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	created.OrderItems = items

	return created, nil
}

func (s *OrderService) notifyPlaced(ctx context.Context, o order.Order) {
	data := notification.OrderData(o)
	if o.PaymentMethod == order.PaymentMethodBankTransfer {
		data["bankTransfer"] = map[string]any{
			"holder": s.bankTransfer.Holder,
			"bank":   s.bankTransfer.Bank,
			"cbu":    s.bankTransfer.CBU,
			"alias":  s.bankTransfer.Alias,
		}
	}

	s.notify(ctx, notification.New(notification.KindOrderPlaced, o.CustomerEmail, data))
	s.notify(ctx, notification.New(notification.KindAdminNewOrder, s.adminEmail, data))
}

func (s *OrderService) notify(ctx context.Context, msg notification.Message) {
	if msg.Recipient == "" {
		slog.Warn("Skipping notification without recipient", "kind", msg.Kind)

		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		slog.Error("Failed to enqueue notification", "kind", msg.Kind, "message_id", msg.MessageID, "error", err)
	}
}
