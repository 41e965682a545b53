package postgresrepo

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PostgresCouponRepository represents a Postgres coupon repository.
type PostgresCouponRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresCouponRepository creates a new Postgres coupon repository.
func NewPostgresCouponRepository(conn postgres.GenericConn) *PostgresCouponRepository {
	return &PostgresCouponRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// FindByCode looks a coupon up by upper(code), matching the unique index.
func (r *PostgresCouponRepository) FindByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	query, args, err := r.sb.Select(
		"id",
		"code",
		"kind",
		"value::text",
		"minimum_purchase_cents",
		"expires_at",
		"usage_cap",
		"usage_count",
		"active",
		"created_at",
		"updated_at",
	).
		From("coupons").
		Where(sq.Expr("upper(code) = ?", coupon.NormalizeCode(code))).
		ToSql()
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("failed to build select query: %w", err)
	}

	var (
		c     coupon.Coupon
		kind  string
		value string
	)
	err = r.conn.QueryRow(ctx, query, args...).Scan(
		&c.ID,
		&c.Code,
		&kind,
		&value,
		&c.MinimumPurchase,
		&c.ExpiresAt,
		&c.UsageCap,
		&c.UsageCount,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coupon.Coupon{}, fmt.Errorf("%w: coupon", errs.ErrNotFound)
		}

		return coupon.Coupon{}, fmt.Errorf("failed to get coupon: %w", err)
	}

	c.Kind = coupon.Kind(kind)
	c.Value, err = decimal.NewFromString(value)
	if err != nil {
		return coupon.Coupon{}, fmt.Errorf("failed to parse coupon value %q: %w", value, err)
	}

	return c, nil
}

// IncrementUsage bumps usage_count by one.
func (r *PostgresCouponRepository) IncrementUsage(ctx context.Context, code string) error {
	query, args, err := r.sb.Update("coupons").
		Set("usage_count", sq.Expr("usage_count + 1")).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Expr("upper(code) = ?", coupon.NormalizeCode(code))).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: coupon %s", errs.ErrNotFound, code)
	}

	return nil
}
