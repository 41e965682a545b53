package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/currency"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/orderitem"
	"github.com/jackc/pgx/v5"
)

const codeConstraint = "orders_code_key"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var orderColumns = []string{
	"id",
	"code",
	"customer_id",
	"customer_email",
	"customer_name",
	"shipping_option",
	"shipping_address",
	"currency",
	"subtotal_cents",
	"shipping_cents",
	"discount_cents",
	"total_cents",
	"coupon_code",
	"payment_method",
	"state",
	"payment_deadline",
	"confirmation_notified_at",
	"confirmed_at",
	"confirmed_via",
	"gateway_payment_id",
	"transfer_proof_note",
	"transfer_proof_at",
	"expired_at",
	"cancelled_at",
	"promised_date",
	"carrier",
	"tracking_number",
	"created_at",
	"updated_at",
}

// OrderDal represents order data access layer model
type OrderDal struct {
	Id                     int64
	Code                   string
	CustomerId             string
	CustomerEmail          string
	CustomerName           string
	ShippingOption         string
	ShippingAddress        string
	Currency               string
	SubtotalCents          int64
	ShippingCents          int64
	DiscountCents          int64
	TotalCents             int64
	CouponCode             *string
	PaymentMethod          string
	State                  string
	PaymentDeadline        *time.Time
	ConfirmationNotifiedAt *time.Time
	ConfirmedAt            *time.Time
	ConfirmedVia           *string
	GatewayPaymentId       *string
	TransferProofNote      *string
	TransferProofAt        *time.Time
	ExpiredAt              *time.Time
	CancelledAt            *time.Time
	PromisedDate           time.Time
	Carrier                *string
	TrackingNumber         *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (o *OrderDal) scanTargets() []any {
	return []any{
		&o.Id,
		&o.Code,
		&o.CustomerId,
		&o.CustomerEmail,
		&o.CustomerName,
		&o.ShippingOption,
		&o.ShippingAddress,
		&o.Currency,
		&o.SubtotalCents,
		&o.ShippingCents,
		&o.DiscountCents,
		&o.TotalCents,
		&o.CouponCode,
		&o.PaymentMethod,
		&o.State,
		&o.PaymentDeadline,
		&o.ConfirmationNotifiedAt,
		&o.ConfirmedAt,
		&o.ConfirmedVia,
		&o.GatewayPaymentId,
		&o.TransferProofNote,
		&o.TransferProofAt,
		&o.ExpiredAt,
		&o.CancelledAt,
		&o.PromisedDate,
		&o.Carrier,
		&o.TrackingNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
	}
}

// ToModel converts OrderDal to service layer Order model
func (o *OrderDal) ToModel() (order.Order, error) {
	cur, err := currency.ParseCurrency(o.Currency)
	if err != nil {
		return order.Order{}, err
	}
	state, err := order.ParseState(o.State)
	if err != nil {
		return order.Order{}, fmt.Errorf("order %d: %w", o.Id, err)
	}
	method, err := order.ParsePaymentMethod(o.PaymentMethod)
	if err != nil {
		return order.Order{}, fmt.Errorf("order %d: %w", o.Id, err)
	}

	model := order.Order{
		ID:                     o.Id,
		Code:                   o.Code,
		CustomerID:             o.CustomerId,
		CustomerEmail:          o.CustomerEmail,
		CustomerName:           o.CustomerName,
		ShippingOption:         order.ShippingOption(o.ShippingOption),
		ShippingAddress:        o.ShippingAddress,
		Currency:               cur,
		SubtotalCents:          o.SubtotalCents,
		ShippingCents:          o.ShippingCents,
		DiscountCents:          o.DiscountCents,
		TotalCents:             o.TotalCents,
		CouponCode:             o.CouponCode,
		PaymentMethod:          method,
		State:                  state,
		PaymentDeadline:        o.PaymentDeadline,
		ConfirmationNotifiedAt: o.ConfirmationNotifiedAt,
		ConfirmedAt:            o.ConfirmedAt,
		GatewayPaymentID:       o.GatewayPaymentId,
		TransferProofNote:      o.TransferProofNote,
		TransferProofAt:        o.TransferProofAt,
		ExpiredAt:              o.ExpiredAt,
		CancelledAt:            o.CancelledAt,
		PromisedDate:           o.PromisedDate,
		Carrier:                o.Carrier,
		TrackingNumber:         o.TrackingNumber,
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
		OrderItems:             []orderitem.OrderItem{}, // Will be populated separately
	}
	if o.ConfirmedVia != nil {
		via := order.ConfirmationSource(*o.ConfirmedVia)
		model.ConfirmedVia = &via
	}

	return model, nil
}

type PostgresOrderRepository struct {
	conn postgres.GenericConn
}

func NewPostgresOrderRepository(conn postgres.GenericConn) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		conn: conn,
	}
}

// Insert stores a new order and returns it with its id.
func (r *PostgresOrderRepository) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	if err := o.ValidateTotals(); err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	query, args, err := psql.Insert("orders").
		Columns(orderColumns[1:]...).
		Values(
			o.Code,
			o.CustomerID,
			o.CustomerEmail,
			o.CustomerName,
			string(o.ShippingOption),
			o.ShippingAddress,
			o.Currency.String(),
			o.SubtotalCents,
			o.ShippingCents,
			o.DiscountCents,
			o.TotalCents,
			o.CouponCode,
			string(o.PaymentMethod),
			o.State.String(),
			o.PaymentDeadline,
			o.ConfirmationNotifiedAt,
			o.ConfirmedAt,
			sourcePtr(o.ConfirmedVia),
			o.GatewayPaymentID,
			o.TransferProofNote,
			o.TransferProofAt,
			o.ExpiredAt,
			o.CancelledAt,
			o.PromisedDate,
			o.Carrier,
			o.TrackingNumber,
			o.CreatedAt,
			o.UpdatedAt,
		).
		Suffix("RETURNING " + columnList()).
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	inserted, err := r.scanOne(r.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if postgres.IsUniqueViolation(err, codeConstraint) {
			return order.Order{}, iorderrepo.ErrDuplicateCode
		}

		return order.Order{}, fmt.Errorf("failed to insert order: %w", err)
	}
	inserted.OrderItems = append(inserted.OrderItems, o.OrderItems...)

	return inserted, nil
}

// FindByID loads a single order without its items.
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id int64) (order.Order, error) {
	return r.findOne(ctx, sq.Eq{"id": id})
}

// FindByCode loads a single order by its public code.
func (r *PostgresOrderRepository) FindByCode(ctx context.Context, code string) (order.Order, error) {
	return r.findOne(ctx, sq.Eq{"code": code})
}

func (r *PostgresOrderRepository) findOne(ctx context.Context, pred sq.Eq) (order.Order, error) {
	query, args, err := psql.Select(orderColumns...).From("orders").Where(pred).ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build select query: %w", err)
	}

	o, err := r.scanOne(r.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, fmt.Errorf("%w: order", errs.ErrNotFound)
		}

		return order.Order{}, fmt.Errorf("failed to get order: %w", err)
	}

	return o, nil
}

// Query retrieves orders based on filter criteria, newest first
func (r *PostgresOrderRepository) Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	builder := psql.Select(orderColumns...).From("orders").OrderBy("created_at DESC", "id DESC")

	if filter != nil {
		if len(filter.Ids) > 0 {
			builder = builder.Where(sq.Eq{"id": filter.Ids})
		}
		if len(filter.CustomerIds) > 0 {
			builder = builder.Where(sq.Eq{"customer_id": filter.CustomerIds})
		}
		if len(filter.States) > 0 {
			builder = builder.Where(sq.Eq{"state": order.StateStrings(filter.States)})
		}
		if filter.Limit > 0 {
			builder = builder.Limit(uint64(filter.Limit))
		}
		if filter.Offset > 0 {
			builder = builder.Offset(uint64(filter.Offset))
		}
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	return r.scanAll(rows)
}

// CountByStates counts orders currently in any of states.
func (r *PostgresOrderRepository) CountByStates(ctx context.Context, states []order.State) (int, error) {
	query, args, err := psql.Select("count(*)").
		From("orders").
		Where(sq.Eq{"state": order.StateStrings(states)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}

	return count, nil
}

// ConfirmPayment is the guarded write into confirmed.
func (r *PostgresOrderRepository) ConfirmPayment(
	ctx context.Context,
	id int64,
	source order.ConfirmationSource,
	now time.Time,
) (order.Order, bool, error) {
	builder := psql.Update("orders").
		Set("state", order.StateConfirmed.String()).
		Set("confirmation_notified_at", now).
		Set("confirmed_at", now).
		Set("confirmed_via", string(source)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"state": order.StateStrings(order.PreConfirmationStates())}).
		Where(sq.Eq{"confirmation_notified_at": nil})

	return r.updateOne(ctx, builder)
}

// Transition moves the order into to when its current state is one of from.
func (r *PostgresOrderRepository) Transition(
	ctx context.Context,
	id int64,
	from []order.State,
	to order.State,
	now time.Time,
) (order.Order, bool, error) {
	if len(from) == 0 {
		return order.Order{}, false, nil
	}

	builder := psql.Update("orders").
		Set("state", to.String()).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"state": order.StateStrings(from)})
	switch to {
	case order.StateCancelled:
		builder = builder.Set("cancelled_at", now)
	case order.StateExpired:
		builder = builder.Set("expired_at", now)
	}

	return r.updateOne(ctx, builder)
}

// SubmitTransferProof records the customer's proof of payment.
func (r *PostgresOrderRepository) SubmitTransferProof(
	ctx context.Context,
	id int64,
	note string,
	now time.Time,
) (order.Order, bool, error) {
	builder := psql.Update("orders").
		Set("state", order.StateTransferProofSubmitted.String()).
		Set("transfer_proof_note", note).
		Set("transfer_proof_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"state": order.StatePendingPaymentTransfer.String()}).
		Where(sq.Or{
			sq.Eq{"payment_deadline": nil},
			sq.GtOrEq{"payment_deadline": now},
		})

	return r.updateOne(ctx, builder)
}

// SetGatewayPaymentID is idempotent for the same payment id.
func (r *PostgresOrderRepository) SetGatewayPaymentID(ctx context.Context, id int64, paymentID string) error {
	query, args, err := psql.Update("orders").
		Set("gateway_payment_id", paymentID).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"gateway_payment_id": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to set gateway payment id: %w", err)
	}

	return nil
}

func expiryPredicate(model order.ExpiryCandidatesModel) sq.Or {
	return sq.Or{
		sq.And{
			sq.Eq{"state": order.StatePendingPaymentTransfer.String()},
			sq.Lt{"payment_deadline": model.Now},
		},
		sq.And{
			sq.Eq{"state": order.StatePendingPaymentGateway.String()},
			sq.Lt{"created_at": model.GatewayCutoff},
		},
	}
}

// ListExpiryCandidates returns ids of orders whose payment window has closed, oldest first.
func (r *PostgresOrderRepository) ListExpiryCandidates(
	ctx context.Context,
	model order.ExpiryCandidatesModel,
) ([]int64, error) {
	builder := psql.Select("id").
		From("orders").
		Where(expiryPredicate(model)).
		OrderBy("created_at ASC")
	if model.Limit > 0 {
		builder = builder.Limit(uint64(model.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiry candidates: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan expiry candidates: %w", err)
	}

	return ids, nil
}

// ExpireBatch re-checks the expiry predicate row by row, so an order confirmed after it was
// selected is left untouched.
func (r *PostgresOrderRepository) ExpireBatch(
	ctx context.Context,
	ids []int64,
	model order.ExpiryCandidatesModel,
) ([]order.Order, error) {
	if len(ids) == 0 {
		return []order.Order{}, nil
	}

	query, args, err := psql.Update("orders").
		Set("state", order.StateExpired.String()).
		Set("expired_at", model.Now).
		Set("updated_at", model.Now).
		Where(sq.Eq{"id": ids}).
		Where(expiryPredicate(model)).
		Suffix("RETURNING " + columnList()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expire orders: %w", err)
	}

	return r.scanAll(rows)
}

func (r *PostgresOrderRepository) updateOne(ctx context.Context, builder sq.UpdateBuilder) (order.Order, bool, error) {
	query, args, err := builder.Suffix("RETURNING " + columnList()).ToSql()
	if err != nil {
		return order.Order{}, false, fmt.Errorf("failed to build update query: %w", err)
	}

	o, err := r.scanOne(r.conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, false, nil
		}

		return order.Order{}, false, fmt.Errorf("failed to update order: %w", err)
	}

	return o, true, nil
}

func (r *PostgresOrderRepository) scanOne(row pgx.Row) (order.Order, error) {
	var dal OrderDal
	if err := row.Scan(dal.scanTargets()...); err != nil {
		return order.Order{}, err
	}

	return dal.ToModel()
}

func (r *PostgresOrderRepository) scanAll(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()

	result := []order.Order{}
	for rows.Next() {
		var dal OrderDal
		if err := rows.Scan(dal.scanTargets()...); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		model, err := dal.ToModel()
		if err != nil {
			return nil, fmt.Errorf("failed to convert order dal to model: %w", err)
		}
		result = append(result, model)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

func columnList() string {
	return strings.Join(orderColumns, ", ")
}

func sourcePtr(s *order.ConfirmationSource) *string {
	if s == nil {
		return nil
	}
	v := string(*s)

	return &v
}
