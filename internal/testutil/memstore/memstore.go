// Package memstore is an in-memory stand-in for the Postgres repositories. Every guarded
// write is evaluated and applied under one mutex, which gives the same at-most-once
// behaviour as the single-statement conditional updates in Postgres.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/corray333/labshop/internal/dal/interfaces/icouponrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderitemrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/dal/interfaces/iproductrepo"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/orderitem"
	"github.com/corray333/labshop/internal/service/models/product"
)

// Store holds every table.
type Store struct {
	mu          sync.Mutex
	nextOrderID int64
	nextItemID  int64
	orders      map[int64]order.Order
	items       map[int64]orderitem.OrderItem
	coupons     map[string]coupon.Coupon
	products    map[int64]product.Product

	countErr  error
	insertErr func(o order.Order) error
}

func New() *Store {
	return &Store{
		orders:   make(map[int64]order.Order),
		items:    make(map[int64]orderitem.OrderItem),
		coupons:  make(map[string]coupon.Coupon),
		products: make(map[int64]product.Product),
	}
}

func (s *Store) AddProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) AddCoupon(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = coupon.NormalizeCode(c.Code)
	s.coupons[c.Code] = c
}

// Coupon returns the stored coupon, zero if absent.
func (s *Store) Coupon(code string) coupon.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.coupons[coupon.NormalizeCode(code)]
}

// PutOrder stores o as is, assigning an id when it has none.
func (s *Store) PutOrder(o order.Order) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		s.nextOrderID++
		o.ID = s.nextOrderID
	} else if o.ID > s.nextOrderID {
		s.nextOrderID = o.ID
	}
	items := o.OrderItems
	o.OrderItems = nil
	s.orders[o.ID] = o
	for _, item := range items {
		s.nextItemID++
		item.ID = s.nextItemID
		item.OrderID = o.ID
		s.items[item.ID] = item
	}

	return o
}

// Order returns the stored order with its items.
func (s *Store) Order(id int64) order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.OrderItems = s.itemsOf(id)

	return o
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.orders)
}

// FailCounts makes CountByStates return err until reset with nil.
func (s *Store) FailCounts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countErr = err
}

// FailInserts runs fn before every order insert; a non-nil result is returned instead.
func (s *Store) FailInserts(fn func(o order.Order) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = fn
}

func (s *Store) itemsOf(orderID int64) []orderitem.OrderItem {
	out := []orderitem.OrderItem{}
	for _, item := range s.items {
		if item.OrderID == orderID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (s *Store) OrderRepository() iorderrepo.IOrderRepository {
	return &OrderRepo{s: s}
}

func (s *Store) OrderItemRepository() iorderitemrepo.IOrderItemRepository {
	return &ItemRepo{s: s}
}

func (s *Store) CouponRepository() icouponrepo.ICouponRepository {
	return &CouponRepo{s: s}
}

func (s *Store) ProductRepository() iproductrepo.IProductRepository {
	return &ProductRepo{s: s}
}

// OrderRepo implements iorderrepo.IOrderRepository.
type OrderRepo struct {
	s  *Store
	tx *UnitOfWork
}

func (r *OrderRepo) Insert(_ context.Context, o order.Order) (order.Order, error) {
	if err := o.ValidateTotals(); err != nil {
		return order.Order{}, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		if err := s.insertErr(o); err != nil {
			return order.Order{}, err
		}
	}
	for _, existing := range s.orders {
		if existing.Code == o.Code {
			return order.Order{}, iorderrepo.ErrDuplicateCode
		}
	}

	s.nextOrderID++
	o.ID = s.nextOrderID
	items := o.OrderItems
	o.OrderItems = nil
	s.orders[o.ID] = o
	if r.tx != nil {
		r.tx.orderIDs = append(r.tx.orderIDs, o.ID)
	}
	o.OrderItems = items

	return o, nil
}

func (r *OrderRepo) FindByID(_ context.Context, id int64) (order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("%w: order", errs.ErrNotFound)
	}

	return o, nil
}

func (r *OrderRepo) FindByCode(_ context.Context, code string) (order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orders {
		if o.Code == code {
			return o, nil
		}
	}

	return order.Order{}, fmt.Errorf("%w: order", errs.ErrNotFound)
}

func (r *OrderRepo) Query(_ context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []order.Order{}
	for _, o := range r.s.orders {
		if filter != nil {
			if len(filter.Ids) > 0 && !slices.Contains(filter.Ids, o.ID) {
				continue
			}
			if len(filter.CustomerIds) > 0 && !slices.Contains(filter.CustomerIds, o.CustomerID) {
				continue
			}
			if len(filter.States) > 0 && !slices.Contains(filter.States, o.State) {
				continue
			}
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}

		return out[i].ID > out[j].ID
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return []order.Order{}, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(out) {
			out = out[:filter.Limit]
		}
	}

	return out, nil
}

func (r *OrderRepo) CountByStates(_ context.Context, states []order.State) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.countErr != nil {
		return 0, r.s.countErr
	}
	count := 0
	for _, o := range r.s.orders {
		if slices.Contains(states, o.State) {
			count++
		}
	}

	return count, nil
}

// update applies fn to the order when pred holds, atomically.
func (r *OrderRepo) update(id int64, pred func(order.Order) bool, fn func(*order.Order)) (order.Order, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok || !pred(o) {
		return order.Order{}, false, nil
	}
	fn(&o)
	r.s.orders[id] = o

	return o, true, nil
}

func (r *OrderRepo) ConfirmPayment(
	_ context.Context,
	id int64,
	source order.ConfirmationSource,
	now time.Time,
) (order.Order, bool, error) {
	return r.update(id,
		func(o order.Order) bool {
			return o.State.IsPreConfirmation() && o.ConfirmationNotifiedAt == nil
		},
		func(o *order.Order) {
			o.State = order.StateConfirmed
			o.ConfirmationNotifiedAt = &now
			o.ConfirmedAt = &now
			o.ConfirmedVia = &source
			o.UpdatedAt = now
		},
	)
}

func (r *OrderRepo) Transition(
	_ context.Context,
	id int64,
	from []order.State,
	to order.State,
	now time.Time,
) (order.Order, bool, error) {
	return r.update(id,
		func(o order.Order) bool { return slices.Contains(from, o.State) },
		func(o *order.Order) {
			o.State = to
			o.UpdatedAt = now
			switch to {
			case order.StateCancelled:
				o.CancelledAt = &now
			case order.StateExpired:
				o.ExpiredAt = &now
			}
		},
	)
}

func (r *OrderRepo) SubmitTransferProof(_ context.Context, id int64, note string, now time.Time) (order.Order, bool, error) {
	return r.update(id,
		func(o order.Order) bool {
			return o.State == order.StatePendingPaymentTransfer &&
				(o.PaymentDeadline == nil || !o.PaymentDeadline.Before(now))
		},
		func(o *order.Order) {
			o.State = order.StateTransferProofSubmitted
			o.TransferProofNote = &note
			o.TransferProofAt = &now
			o.UpdatedAt = now
		},
	)
}

func (r *OrderRepo) SetGatewayPaymentID(_ context.Context, id int64, paymentID string) error {
	_, _, err := r.update(id,
		func(o order.Order) bool { return o.GatewayPaymentID == nil },
		func(o *order.Order) { o.GatewayPaymentID = &paymentID },
	)

	return err
}

func expiryMatches(o order.Order, model order.ExpiryCandidatesModel) bool {
	switch o.State {
	case order.StatePendingPaymentTransfer:
		return o.PaymentDeadline != nil && o.PaymentDeadline.Before(model.Now)
	case order.StatePendingPaymentGateway:
		return o.CreatedAt.Before(model.GatewayCutoff)
	default:
		return false
	}
}

func (r *OrderRepo) ListExpiryCandidates(_ context.Context, model order.ExpiryCandidatesModel) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	matches := []order.Order{}
	for _, o := range r.s.orders {
		if expiryMatches(o, model) {
			matches = append(matches, o)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	if model.Limit > 0 && len(matches) > model.Limit {
		matches = matches[:model.Limit]
	}

	ids := make([]int64, len(matches))
	for i, o := range matches {
		ids[i] = o.ID
	}

	return ids, nil
}

func (r *OrderRepo) ExpireBatch(_ context.Context, ids []int64, model order.ExpiryCandidatesModel) ([]order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	expired := []order.Order{}
	for _, id := range ids {
		o, ok := r.s.orders[id]
		if !ok || !expiryMatches(o, model) {
			continue
		}
		now := model.Now
		o.State = order.StateExpired
		o.ExpiredAt = &now
		o.UpdatedAt = now
		r.s.orders[id] = o
		expired = append(expired, o)
	}

	return expired, nil
}

// ItemRepo implements iorderitemrepo.IOrderItemRepository.
type ItemRepo struct {
	s  *Store
	tx *UnitOfWork
}

func (r *ItemRepo) BulkInsert(_ context.Context, items []orderitem.OrderItem) ([]orderitem.OrderItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]orderitem.OrderItem, len(items))
	for i, item := range items {
		r.s.nextItemID++
		item.ID = r.s.nextItemID
		r.s.items[item.ID] = item
		if r.tx != nil {
			r.tx.itemIDs = append(r.tx.itemIDs, item.ID)
		}
		out[i] = item
	}

	return out, nil
}

func (r *ItemRepo) Query(_ context.Context, filter *orderitem.QueryOrderItemsModel) ([]orderitem.OrderItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []orderitem.OrderItem{}
	for _, item := range r.s.items {
		if filter != nil && len(filter.OrderIds) > 0 && !slices.Contains(filter.OrderIds, item.OrderID) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// CouponRepo implements icouponrepo.ICouponRepository.
type CouponRepo struct {
	s *Store
}

func (r *CouponRepo) FindByCode(_ context.Context, code string) (coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.coupons[coupon.NormalizeCode(code)]
	if !ok {
		return coupon.Coupon{}, fmt.Errorf("%w: coupon", errs.ErrNotFound)
	}

	return c, nil
}

func (r *CouponRepo) IncrementUsage(_ context.Context, code string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := coupon.NormalizeCode(code)
	c, ok := r.s.coupons[key]
	if !ok {
		return fmt.Errorf("%w: coupon", errs.ErrNotFound)
	}
	c.UsageCount++
	r.s.coupons[key] = c

	return nil
}

// ProductRepo implements iproductrepo.IProductRepository.
type ProductRepo struct {
	s *Store
}

func (r *ProductRepo) FindByIDs(_ context.Context, ids []int64) ([]product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []product.Product{}
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}

	return out, nil
}

// UnitOfWork undoes its inserts on rollback.
type UnitOfWork struct {
	s        *Store
	active   bool
	orderIDs []int64
	itemIDs  []int64
}

func (s *Store) NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{s: s}
}

func (u *UnitOfWork) Begin(context.Context) error {
	u.active = true
	u.orderIDs, u.itemIDs = nil, nil

	return nil
}

func (u *UnitOfWork) Commit(context.Context) error {
	u.active = false
	u.orderIDs, u.itemIDs = nil, nil

	return nil
}

func (u *UnitOfWork) Rollback(context.Context) error {
	if !u.active {
		return nil
	}
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, id := range u.orderIDs {
		delete(u.s.orders, id)
	}
	for _, id := range u.itemIDs {
		delete(u.s.items, id)
	}
	u.active = false
	u.orderIDs, u.itemIDs = nil, nil

	return nil
}

func (u *UnitOfWork) OrderRepository() iorderrepo.IOrderRepository {
	return &OrderRepo{s: u.s, tx: u}
}

func (u *UnitOfWork) OrderItemRepository() iorderitemrepo.IOrderItemRepository {
	return &ItemRepo{s: u.s, tx: u}
}

func (u *UnitOfWork) ProductRepository() iproductrepo.IProductRepository {
	return &ProductRepo{s: u.s}
}
