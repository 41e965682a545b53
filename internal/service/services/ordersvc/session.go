package ordersvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"go.opentelemetry.io/otel"
)

// CreatePaymentSession opens a new hosted checkout for an unpaid gateway order.
func (s *OrderService) CreatePaymentSession(ctx context.Context, code string, customerID string) (payment.CheckoutSession, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.CreatePaymentSession")
	defer span.End()

	if s.gateway == nil {
		return payment.CheckoutSession{}, fmt.Errorf("%w: payment gateway is not configured", errs.ErrDependency)
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if !order.IsValidCode(code) {
		return payment.CheckoutSession{}, fmt.Errorf("%w: malformed order code %q", errs.ErrValidation, code)
	}

	o, err := s.newUOW().OrderRepository().FindByCode(ctx, code)
	if err != nil {
		return payment.CheckoutSession{}, wrapRead(err)
	}
	if !o.IsOwnedBy(customerID) {
		return payment.CheckoutSession{}, fmt.Errorf("%w: order %s belongs to another customer", errs.ErrForbidden, code)
	}
	if o.State != order.StatePendingPaymentGateway {
		return payment.CheckoutSession{}, fmt.Errorf("%w: order %s is %s", errs.ErrConflict, code, o.State)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, o)
	if err != nil {
		return payment.CheckoutSession{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	return session, nil
}
