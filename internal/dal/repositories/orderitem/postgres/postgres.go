package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/models/orderitem"
	"github.com/jackc/pgx/v5"
)

// OrderItemDal represents order item data access layer model.
type OrderItemDal struct {
	Id             int64
	OrderId        int64
	ProductId      *int64
	Title          string
	Quantity       int
	UnitPriceCents int64
	SubtotalCents  int64
	CreatedAt      time.Time
}

// ToModel converts OrderItemDal to service layer OrderItem model.
func (oi *OrderItemDal) ToModel() orderitem.OrderItem {
	return orderitem.OrderItem{
		ID:             oi.Id,
		OrderID:        oi.OrderId,
		ProductID:      oi.ProductId,
		Title:          oi.Title,
		Quantity:       oi.Quantity,
		UnitPriceCents: oi.UnitPriceCents,
		SubtotalCents:  oi.SubtotalCents,
		CreatedAt:      oi.CreatedAt,
	}
}

// PostgresOrderItemRepository represents a Postgres order item repository.
type PostgresOrderItemRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresOrderItemRepository creates a new Postgres order item repository.
func NewPostgresOrderItemRepository(conn postgres.GenericConn) *PostgresOrderItemRepository {
	return &PostgresOrderItemRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const itemColumns = "id, order_id, product_id, title, quantity, unit_price_cents, subtotal_cents, created_at"

// BulkInsert inserts order items in one statement using parallel arrays.
func (r *PostgresOrderItemRepository) BulkInsert(
	ctx context.Context,
	orderItems []orderitem.OrderItem,
) ([]orderitem.OrderItem, error) {
	if len(orderItems) == 0 {
		return []orderitem.OrderItem{}, nil
	}

	orderIds := make([]int64, len(orderItems))
	productIds := make([]*int64, len(orderItems))
	titles := make([]string, len(orderItems))
	quantities := make([]int32, len(orderItems))
	unitPrices := make([]int64, len(orderItems))
	subtotals := make([]int64, len(orderItems))
	createdAts := make([]time.Time, len(orderItems))

	for i, oi := range orderItems {
		orderIds[i] = oi.OrderID
		productIds[i] = oi.ProductID
		titles[i] = oi.Title
		quantities[i] = int32(oi.Quantity)
		unitPrices[i] = oi.UnitPriceCents
		subtotals[i] = oi.SubtotalCents
		createdAts[i] = oi.CreatedAt
	}

	sql := `
		INSERT INTO order_items (order_id, product_id, title, quantity, unit_price_cents, subtotal_cents, created_at)
		SELECT order_id, product_id, title, quantity, unit_price_cents, subtotal_cents, created_at
		FROM unnest($1::bigint[], $2::bigint[], $3::text[], $4::int[], $5::bigint[], $6::bigint[], $7::timestamptz[])
		AS t(order_id, product_id, title, quantity, unit_price_cents, subtotal_cents, created_at)
		RETURNING ` + itemColumns

	rows, err := r.conn.Query(ctx, sql,
		orderIds, productIds, titles, quantities, unitPrices, subtotals, createdAts)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert order items: %w", err)
	}

	return scanItems(rows)
}

// Query retrieves order items based on filter criteria.
func (r *PostgresOrderItemRepository) Query(
	ctx context.Context,
	filter *orderitem.QueryOrderItemsModel,
) ([]orderitem.OrderItem, error) {
	builder := r.sb.Select(itemColumns).From("order_items").OrderBy("id ASC")
	if filter != nil && len(filter.OrderIds) > 0 {
		builder = builder.Where(sq.Eq{"order_id": filter.OrderIds})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}

	return scanItems(rows)
}

func scanItems(rows pgx.Rows) ([]orderitem.OrderItem, error) {
	defer rows.Close()

	result := []orderitem.OrderItem{}
	for rows.Next() {
		var dal OrderItemDal
		err := rows.Scan(
			&dal.Id,
			&dal.OrderId,
			&dal.ProductId,
			&dal.Title,
			&dal.Quantity,
			&dal.UnitPriceCents,
			&dal.SubtotalCents,
			&dal.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		result = append(result, dal.ToModel())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
