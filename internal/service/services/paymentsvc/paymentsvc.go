package paymentsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corray333/labshop/internal/dal/interfaces/icouponrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderitemrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/orderitem"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxProofNoteLength = 1000

// Outcome is the result of a confirmation attempt that did not fail.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
)

// ConfirmResult carries the outcome and the order as stored after the attempt.
type ConfirmResult struct {
	Outcome Outcome     `json:"outcome"`
	Order   order.Order `json:"order"`
}

type notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

type gateway interface {
	ParseEvent(payload []byte, signature string) (payment.Event, error)
	LookupPayment(ctx context.Context, ev payment.Event) (payment.Payment, error)
}

// PaymentService owns every transition into confirmed.
type PaymentService struct {
	orderRepo     iorderrepo.IOrderRepository
	orderItemRepo iorderitemrepo.IOrderItemRepository
	couponRepo    icouponrepo.ICouponRepository
	notifier      notifier
	gateway       gateway
	adminEmail    string
	now           func() time.Time
	sanitizer     *bluemonday.Policy

	confirmations metric.Int64Counter
}

type option func(*PaymentService)

// MustNewPaymentService creates a new PaymentService.
func MustNewPaymentService(opts ...option) *PaymentService {
	s := &PaymentService{
		now:       time.Now,
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orderRepo == nil || s.couponRepo == nil || s.notifier == nil {
		panic("paymentsvc: order repository, coupon repository and notifier are required")
	}

	counter, err := otel.Meter("paymentsvc").Int64Counter(
		"labshop.payment.confirmations",
		metric.WithDescription("Payment confirmation attempts by source and outcome"),
	)
	if err != nil {
		panic(err)
	}
	s.confirmations = counter

	return s
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderRepository(repo iorderrepo.IOrderRepository) option {
	return func(s *PaymentService) {
		s.orderRepo = repo
	}
}

// WithOrderItemRepository enables line items in payment emails.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderItemRepository(repo iorderitemrepo.IOrderItemRepository) option {
	return func(s *PaymentService) {
		s.orderItemRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithCouponRepository(repo icouponrepo.ICouponRepository) option {
	return func(s *PaymentService) {
		s.couponRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithNotifier(n notifier) option {
	return func(s *PaymentService) {
		s.notifier = n
	}
}

// WithGateway enables webhook handling.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithGateway(g gateway) option {
	return func(s *PaymentService) {
		s.gateway = g
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithAdminEmail(email string) option {
	return func(s *PaymentService) {
		s.adminEmail = email
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *PaymentService) {
		if now != nil {
			s.now = now
		}
	}
}

// ConfirmPayment moves the order into confirmed at most once. Only the call whose guarded
// write applies fires the side effects; every other call reports AlreadyConfirmed, or
// ErrConflict when the order was cancelled or expired.
func (s *PaymentService) ConfirmPayment(
	ctx context.Context,
	orderID int64,
	source order.ConfirmationSource,
) (ConfirmResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.ConfirmPayment")
	defer span.End()

	confirmed, applied, err := s.orderRepo.ConfirmPayment(ctx, orderID, source, s.now().UTC())
	if err != nil {
		s.record(ctx, source, "error")
		slog.Error("Failed to confirm payment", "order_id", orderID, "source", source, "error", err)

		return ConfirmResult{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	if applied {
		s.record(ctx, source, string(OutcomeConfirmed))
		slog.Info("Payment confirmed", "order_id", orderID, "order_code", confirmed.Code, "source", source)
		s.afterConfirm(context.WithoutCancel(ctx), confirmed)

		return ConfirmResult{Outcome: OutcomeConfirmed, Order: confirmed}, nil
	}

	current, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		s.record(ctx, source, "error")
		if errors.Is(err, errs.ErrNotFound) {
			return ConfirmResult{}, err
		}

		return ConfirmResult{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	switch {
	case current.State == order.StateCancelled || current.State == order.StateExpired:
		s.record(ctx, source, "conflict")

		return ConfirmResult{Order: current}, fmt.Errorf("%w: order %s is %s", errs.ErrConflict, current.Code, current.State)
	case current.State.IsPreConfirmation():
		// Stamped but not confirmed: only reachable through manual data edits.
		s.record(ctx, source, "conflict")
		slog.Error("Order awaits payment but carries a confirmation stamp",
			"order_id", orderID,
			"state", current.State,
		)

		return ConfirmResult{Order: current}, fmt.Errorf("%w: order %s cannot be confirmed", errs.ErrConflict, current.Code)
	default:
		s.record(ctx, source, string(OutcomeAlreadyConfirmed))
		slog.Info("Payment already confirmed", "order_id", orderID, "state", current.State, "source", source)

		return ConfirmResult{Outcome: OutcomeAlreadyConfirmed, Order: current}, nil
	}
}

// afterConfirm runs the once-per-order side effects. Failures are logged and swallowed.
func (s *PaymentService) afterConfirm(ctx context.Context, o order.Order) {
	if o.CouponCode != nil && *o.CouponCode != "" {
		if err := s.couponRepo.IncrementUsage(ctx, *o.CouponCode); err != nil {
			slog.Error("Failed to increment coupon usage",
				"order_id", o.ID,
				"coupon_code", *o.CouponCode,
				"error", err,
			)
		}
	}

	o.OrderItems = s.loadItems(ctx, o.ID)
	data := notification.OrderData(o)
	s.notify(ctx, notification.New(notification.KindPaymentConfirmed, o.CustomerEmail, data))
	s.notify(ctx, notification.New(notification.KindAdminPaymentConfirmed, s.adminEmail, data))
}

// ReportTransferProof records the customer's claim that the transfer was made. It never
// confirms the order. A repeat report is a no-op success.
func (s *PaymentService) ReportTransferProof(
	ctx context.Context,
	code string,
	customerID string,
	note string,
) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.ReportTransferProof")
	defer span.End()

	o, err := s.findByCode(ctx, code)
	if err != nil {
		return order.Order{}, err
	}
	if !o.IsOwnedBy(customerID) {
		return order.Order{}, fmt.Errorf("%w: order %s belongs to another customer", errs.ErrForbidden, o.Code)
	}

	switch o.State {
	case order.StateTransferProofSubmitted:
		return o, nil
	case order.StatePendingPaymentTransfer:
	default:
		return o, fmt.Errorf("%w: order %s is %s", errs.ErrConflict, o.Code, o.State)
	}

	note = s.sanitizeNote(note)
	updated, applied, err := s.orderRepo.SubmitTransferProof(ctx, o.ID, note, s.now().UTC())
	if err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	if !applied {
		current, err := s.orderRepo.FindByID(ctx, o.ID)
		if err != nil {
			return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
		}
		if current.State == order.StateTransferProofSubmitted {
			return current, nil
		}
		if current.State == order.StatePendingPaymentTransfer {
			return current, fmt.Errorf("%w: payment deadline for order %s has passed", errs.ErrConflict, current.Code)
		}

		return current, fmt.Errorf("%w: order %s is %s", errs.ErrConflict, current.Code, current.State)
	}

	slog.Info("Transfer proof submitted", "order_id", updated.ID, "order_code", updated.Code)

	data := notification.OrderData(updated)
	data["transferProofNote"] = note
	s.notify(context.WithoutCancel(ctx), notification.New(notification.KindAdminTransferProof, s.adminEmail, data))

	return updated, nil
}

// HandleGatewayEvent verifies and processes a webhook delivery. Only a bad signature or a
// missing gateway is returned; everything after verification is logged so the gateway
// always sees success.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.HandleGatewayEvent")
	defer span.End()

	if s.gateway == nil {
		return fmt.Errorf("%w: payment gateway is not configured", errs.ErrDependency)
	}

	ev, err := s.gateway.ParseEvent(payload, signature)
	if err != nil {
		slog.Warn("Rejected webhook with invalid signature", "error", err)

		return fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	if !ev.Relevant {
		slog.Debug("Ignoring webhook event", "event_id", ev.ID, "event_type", ev.Type)

		return nil
	}

	s.processGatewayEvent(ctx, ev)

	return nil
}

func (s *PaymentService) processGatewayEvent(ctx context.Context, ev payment.Event) {
	p, err := s.gateway.LookupPayment(ctx, ev)
	if err != nil {
		slog.Error("Failed to look up gateway payment", "event_id", ev.ID, "object_id", ev.ObjectID, "error", err)

		return
	}
	if !p.Approved {
		slog.Info("Gateway payment not approved yet", "event_id", ev.ID, "payment_id", p.ID)

		return
	}
	if p.OrderCode == "" {
		slog.Warn("Gateway payment carries no order code", "event_id", ev.ID, "payment_id", p.ID)

		return
	}

	o, err := s.findByCode(ctx, p.OrderCode)
	if err != nil {
		slog.Error("Failed to find order for gateway payment", "order_code", p.OrderCode, "payment_id", p.ID, "error", err)

		return
	}
	if p.Currency != "" && !strings.EqualFold(p.Currency, o.Currency.String()) {
		slog.Error("Gateway payment currency mismatch",
			"order_code", o.Code,
			"payment_currency", p.Currency,
			"order_currency", o.Currency.String(),
		)

		return
	}
	if p.AmountCents < o.TotalCents {
		slog.Error("Gateway payment below order total",
			"order_code", o.Code,
			"amount_cents", p.AmountCents,
			"total_cents", o.TotalCents,
		)

		return
	}

	res, err := s.ConfirmPayment(ctx, o.ID, order.SourceWebhook)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			slog.Error("Approved payment for an order that can no longer be confirmed",
				"order_code", o.Code,
				"state", res.Order.State,
				"payment_id", p.ID,
			)
			data := notification.OrderData(res.Order)
			data["gatewayPaymentId"] = p.ID
			s.notify(context.WithoutCancel(ctx), notification.New(notification.KindAdminLatePayment, s.adminEmail, data))
		} else {
			slog.Error("Failed to confirm gateway payment", "order_code", o.Code, "payment_id", p.ID, "error", err)
		}

		return
	}

	if err := s.orderRepo.SetGatewayPaymentID(ctx, o.ID, p.ID); err != nil {
		slog.Error("Failed to record gateway payment id", "order_id", o.ID, "payment_id", p.ID, "error", err)
	}
}

func (s *PaymentService) findByCode(ctx context.Context, code string) (order.Order, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return order.Order{}, fmt.Errorf("%w: order code is empty", errs.ErrValidation)
	}

	o, err := s.orderRepo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return order.Order{}, err
		}

		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	return o, nil
}

func (s *PaymentService) loadItems(ctx context.Context, orderID int64) []orderitem.OrderItem {
	if s.orderItemRepo == nil {
		return nil
	}
	items, err := s.orderItemRepo.Query(ctx, &orderitem.QueryOrderItemsModel{OrderIds: []int64{orderID}})
	if err != nil {
		slog.Warn("Failed to load order items for notification", "order_id", orderID, "error", err)

		return nil
	}

	return items
}

func (s *PaymentService) sanitizeNote(note string) string {
	note = strings.TrimSpace(s.sanitizer.Sanitize(note))
	if r := []rune(note); len(r) > maxProofNoteLength {
		note = string(r[:maxProofNoteLength])
	}

	return note
}

func (s *PaymentService) notify(ctx context.Context, msg notification.Message) {
	if msg.Recipient == "" {
		slog.Warn("Skipping notification without recipient", "kind", msg.Kind)

		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		slog.Error("Failed to enqueue notification", "kind", msg.Kind, "message_id", msg.MessageID, "error", err)
	}
}

func (s *PaymentService) record(ctx context.Context, source order.ConfirmationSource, outcome string) {
	s.confirmations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("outcome", outcome),
	))
}
