package ordersvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
	"go.opentelemetry.io/otel"
)

// SetStateResult reports an administrative state change.
type SetStateResult struct {
	Order order.Order `json:"order"`
	// AlreadyConfirmed is set when a confirmed target found the payment already confirmed.
	AlreadyConfirmed bool `json:"alreadyConfirmed,omitempty"`
}

// SetState applies an administrative state change. A confirmed target goes through payment
// confirmation; cancellation leaves any non-terminal state; the fulfillment stages only move
// forward. Every refused change is an ErrConflict.
func (s *OrderService) SetState(ctx context.Context, id int64, target order.State) (SetStateResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.SetState")
	defer span.End()

	switch {
	case target == order.StateConfirmed:
		res, err := s.payments.ConfirmPayment(ctx, id, order.SourceAdminSetState)
		if err != nil {
			return SetStateResult{}, err
		}

		return SetStateResult{
			Order:            res.Order,
			AlreadyConfirmed: res.Outcome == paymentsvc.OutcomeAlreadyConfirmed,
		}, nil
	case target == order.StateCancelled:
		return s.transition(ctx, id, order.NonTerminalStates(), target, notification.KindOrderCancelled)
	case target.IsForwardTarget():
		return s.transition(ctx, id, order.ForwardSources(target), target, notification.KindOrderStatusChanged)
	default:
		return SetStateResult{}, fmt.Errorf("%w: %s cannot be set by an administrator", errs.ErrValidation, target)
	}
}

func (s *OrderService) transition(
	ctx context.Context,
	id int64,
	from []order.State,
	to order.State,
	kind notification.Kind,
) (SetStateResult, error) {
	repo := s.newUOW().OrderRepository()

	updated, applied, err := repo.Transition(ctx, id, from, to, s.now().UTC())
	if err != nil {
		return SetStateResult{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}
	if !applied {
		current, err := repo.FindByID(ctx, id)
		if err != nil {
			return SetStateResult{}, wrapRead(err)
		}

		return SetStateResult{Order: current}, fmt.Errorf("%w: order %s cannot move from %s to %s",
			errs.ErrConflict, current.Code, current.State, to)
	}

	slog.Info("Order state changed", "order_id", id, "order_code", updated.Code, "state", to)

	s.notify(context.WithoutCancel(ctx), notification.New(kind, updated.CustomerEmail, notification.OrderData(updated)))

	return SetStateResult{Order: updated}, nil
}
