package ordersvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/orderitem"
	"go.opentelemetry.io/otel"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Viewer identifies the caller of a read.
type Viewer struct {
	CustomerID string
	Admin      bool
}

// GetOrder returns the order with code to its owner or an administrator.
func (s *OrderService) GetOrder(ctx context.Context, code string, viewer Viewer) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.GetOrder")
	defer span.End()

	code = strings.ToUpper(strings.TrimSpace(code))
	if !order.IsValidCode(code) {
		return order.Order{}, fmt.Errorf("%w: malformed order code %q", errs.ErrValidation, code)
	}

	o, err := s.newUOW().OrderRepository().FindByCode(ctx, code)
	if err != nil {
		return order.Order{}, wrapRead(err)
	}
	if !viewer.Admin && !o.IsOwnedBy(viewer.CustomerID) {
		return order.Order{}, fmt.Errorf("%w: order %s belongs to another customer", errs.ErrForbidden, code)
	}

	return s.withItems(ctx, o)
}

// GetOrderByID returns an order for the administrator view.
func (s *OrderService) GetOrderByID(ctx context.Context, id int64) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.GetOrderByID")
	defer span.End()

	o, err := s.newUOW().OrderRepository().FindByID(ctx, id)
	if err != nil {
		return order.Order{}, wrapRead(err)
	}

	return s.withItems(ctx, o)
}

// ListOrders runs an expiration sweep and then lists orders with their items. A failed
// sweep is logged and does not block the listing.
func (s *OrderService) ListOrders(ctx context.Context, filter order.QueryOrdersModel) ([]order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.ListOrders")
	defer span.End()

	if res, err := s.sweeper.Sweep(ctx); err != nil {
		slog.Error("Expiration sweep before order listing failed", "error", err)
	} else if res.ExpiredCount > 0 {
		slog.Info("Expired orders before listing", "expired", res.ExpiredCount)
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	work := s.newUOW()
	orders, err := work.OrderRepository().Query(ctx, &filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}
	if len(orders) == 0 {
		return []order.Order{}, nil
	}

	itemQuery := &orderitem.QueryOrderItemsModel{}
	for _, o := range orders {
		itemQuery.OrderIds = append(itemQuery.OrderIds, o.ID)
	}
	items, err := work.OrderItemRepository().Query(ctx, itemQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	byOrder := make(map[int64][]orderitem.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		if list, ok := byOrder[orders[i].ID]; ok {
			orders[i].OrderItems = list
		}
	}

	return orders, nil
}

func (s *OrderService) withItems(ctx context.Context, o order.Order) (order.Order, error) {
	items, err := s.newUOW().OrderItemRepository().Query(ctx, &orderitem.QueryOrderItemsModel{OrderIds: []int64{o.ID}})
	if err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}
	o.OrderItems = items

	return o, nil
}

func wrapRead(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return err
	}

	return fmt.Errorf("%w: %w", errs.ErrDependency, err)
}
