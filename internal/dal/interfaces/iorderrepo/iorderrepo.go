package iorderrepo

import (
	"context"
	"errors"
	"time"

	"github.com/corray333/labshop/internal/service/models/order"
)

// ErrDuplicateCode is returned by Insert when the generated order code is taken.
var ErrDuplicateCode = errors.New("duplicate order code")

// IOrderRepository is an interface for the order repository.
//
// The guarded writes (ConfirmPayment, Transition, SubmitTransferProof, ExpireBatch) are
// single conditional statements: a returned applied=false means the predicate did not
// match and nothing was written.
type IOrderRepository interface {
	Insert(ctx context.Context, o order.Order) (order.Order, error)
	FindByID(ctx context.Context, id int64) (order.Order, error)
	FindByCode(ctx context.Context, code string) (order.Order, error)
	Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)
	CountByStates(ctx context.Context, states []order.State) (int, error)

	// ConfirmPayment moves a pre-confirmation order with no confirmation stamp into
	// confirmed, stamping confirmation_notified_at, confirmed_at and confirmed_via.
	ConfirmPayment(
		ctx context.Context,
		id int64,
		source order.ConfirmationSource,
		now time.Time,
	) (order.Order, bool, error)

	// Transition moves an order from one of from into to.
	Transition(
		ctx context.Context,
		id int64,
		from []order.State,
		to order.State,
		now time.Time,
	) (order.Order, bool, error)

	// SubmitTransferProof moves a pending transfer order whose deadline has not passed
	// into transfer_proof_submitted.
	SubmitTransferProof(ctx context.Context, id int64, note string, now time.Time) (order.Order, bool, error)

	// SetGatewayPaymentID records the gateway payment id unless a different one is set.
	SetGatewayPaymentID(ctx context.Context, id int64, paymentID string) error

	ListExpiryCandidates(ctx context.Context, model order.ExpiryCandidatesModel) ([]int64, error)

	// ExpireBatch expires the given ids that still match the expiry predicate and returns
	// the rows actually expired.
	ExpireBatch(ctx context.Context, ids []int64, model order.ExpiryCandidatesModel) ([]order.Order, error)
}
