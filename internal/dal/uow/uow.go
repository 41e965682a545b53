package uow

import (
	"context"
	"errors"
	"fmt"

	"github.com/corray333/labshop/internal/dal/interfaces/icouponrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderitemrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iproductrepo"
	"github.com/corray333/labshop/internal/dal/postgres"
	couponrepo "github.com/corray333/labshop/internal/dal/repositories/coupon/postgres"
	orderrepo "github.com/corray333/labshop/internal/dal/repositories/order/postgres"
	orderitemrepo "github.com/corray333/labshop/internal/dal/repositories/orderitem/postgres"
	productrepo "github.com/corray333/labshop/internal/dal/repositories/product/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UnitOfWork groups the order repositories over either the pool or one transaction.
type UnitOfWork struct {
	pool          *pgxpool.Pool
	tx            pgx.Tx
	orderRepo     iorderrepo.IOrderRepository
	orderItemRepo iorderitemrepo.IOrderItemRepository
	couponRepo    icouponrepo.ICouponRepository
	productRepo   iproductrepo.IProductRepository
}

func (u *UnitOfWork) OrderRepository() iorderrepo.IOrderRepository {
	return u.orderRepo
}

func (u *UnitOfWork) OrderItemRepository() iorderitemrepo.IOrderItemRepository {
	return u.orderItemRepo
}

func (u *UnitOfWork) CouponRepository() icouponrepo.ICouponRepository {
	return u.couponRepo
}

func (u *UnitOfWork) ProductRepository() iproductrepo.IProductRepository {
	return u.productRepo
}

func NewUnitOfWork(client *postgres.Client) *UnitOfWork {
	u := &UnitOfWork{pool: client.Pool()}
	u.bind(client.Pool())

	return u
}

func (u *UnitOfWork) bind(conn postgres.GenericConn) {
	u.orderRepo = orderrepo.NewPostgresOrderRepository(conn)
	u.orderItemRepo = orderitemrepo.NewPostgresOrderItemRepository(conn)
	u.couponRepo = couponrepo.NewPostgresCouponRepository(conn)
	u.productRepo = productrepo.NewPostgresProductRepository(conn)
}

// Begin opens a transaction and rebinds the repositories to it.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return errors.New("transaction already started")
	}
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.bind(tx)

	return nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	defer u.reset()

	return u.tx.Commit(ctx)
}

// Rollback is a no-op after a successful Commit.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	defer u.reset()

	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}

	return nil
}

func (u *UnitOfWork) reset() {
	u.tx = nil
	u.bind(u.pool)
}
