package postgresrepo

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/currency"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepository connects to LABSHOP_TEST_DATABASE_URL, migrates it and empties the
// order tables. The tests are skipped when the variable is unset.
func newTestRepository(t *testing.T) *PostgresOrderRepository {
	t.Helper()

	dsn := os.Getenv("LABSHOP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LABSHOP_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	client, err := postgres.NewClient(ctx, dsn, "../../../../../migrations")
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.Pool().Exec(ctx, "TRUNCATE order_items, orders RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return NewPostgresOrderRepository(client.Pool())
}

func newOrder(t *testing.T, state order.State, createdAt time.Time) order.Order {
	t.Helper()
	code, err := order.GenerateCode()
	require.NoError(t, err)

	o := order.Order{
		Code:           code,
		CustomerID:     "cust-1",
		CustomerEmail:  "ana@example.com",
		ShippingOption: order.ShippingPickup,
		Currency:       currency.CurrencyARS,
		SubtotalCents:  5000,
		DiscountCents:  500,
		TotalCents:     4500,
		PaymentMethod:  order.PaymentMethodGateway,
		State:          state,
		PromisedDate:   time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if state == order.StatePendingPaymentTransfer {
		o.PaymentMethod = order.PaymentMethodBankTransfer
		deadline := createdAt.Add(time.Hour)
		o.PaymentDeadline = &deadline
	}

	return o
}

func TestInsertAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	created, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentTransfer, now))
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	byCode, err := repo.FindByCode(ctx, created.Code)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCode.ID)
	assert.Equal(t, int64(4500), byCode.TotalCents)
	require.NotNil(t, byCode.PaymentDeadline)
	assert.True(t, now.Add(time.Hour).Equal(*byCode.PaymentDeadline))

	duplicate := newOrder(t, order.StatePendingPaymentGateway, now)
	duplicate.Code = created.Code
	_, err = repo.Insert(ctx, duplicate)
	require.ErrorIs(t, err, iorderrepo.ErrDuplicateCode)

	_, err = repo.FindByID(ctx, created.ID+1000)
	require.ErrorIs(t, err, errs.ErrNotFound)

	count, err := repo.CountByStates(ctx, order.OccupyingStates())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConfirmPaymentIsGuarded(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	created, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentGateway, time.Now().UTC()))
	require.NoError(t, err)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.ConfirmPayment(ctx, created.ID, order.SourceWebhook, time.Now().UTC())
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StateConfirmed, stored.State)
	assert.NotNil(t, stored.ConfirmationNotifiedAt)
}

func TestExpireBatchRechecksPredicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentTransfer, now.Add(-2*time.Hour)))
	require.NoError(t, err)
	abandoned, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentGateway, now.Add(-25*time.Hour)))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, newOrder(t, order.StatePendingPaymentGateway, now))
	require.NoError(t, err)

	model := order.ExpiryCandidatesModel{Now: now, GatewayCutoff: now.Add(-24 * time.Hour), Limit: 10}
	ids, err := repo.ListExpiryCandidates(ctx, model)
	require.NoError(t, err)
	assert.Equal(t, []int64{abandoned.ID, overdue.ID}, ids)

	_, ok, err := repo.ConfirmPayment(ctx, abandoned.ID, order.SourceWebhook, now)
	require.NoError(t, err)
	require.True(t, ok)

	expired, err := repo.ExpireBatch(ctx, ids, model)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, overdue.ID, expired[0].ID)
	assert.Equal(t, order.StateExpired, expired[0].State)
	assert.NotNil(t, expired[0].ExpiredAt)
}

func TestTransitionAndProof(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	late, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentTransfer, now.Add(-2*time.Hour)))
	require.NoError(t, err)
	_, ok, err := repo.SubmitTransferProof(ctx, late.ID, "comprobante", now)
	require.NoError(t, err)
	assert.False(t, ok, "proof after the deadline is refused")

	onTime, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentTransfer, now))
	require.NoError(t, err)
	updated, ok, err := repo.SubmitTransferProof(ctx, onTime.ID, "comprobante", now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.StateTransferProofSubmitted, updated.State)
	require.NotNil(t, updated.TransferProofNote)
	assert.Equal(t, "comprobante", *updated.TransferProofNote)

	_, ok, err = repo.Transition(ctx, onTime.ID, []order.State{order.StateConfirmed}, order.StateInProduction, now)
	require.NoError(t, err)
	assert.False(t, ok)

	cancelled, ok, err := repo.Transition(ctx, onTime.ID, order.PreConfirmationStates(), order.StateCancelled, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.StateCancelled, cancelled.State)
	assert.NotNil(t, cancelled.CancelledAt)
}

func TestSetGatewayPaymentIDOnlyOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	created, err := repo.Insert(ctx, newOrder(t, order.StatePendingPaymentGateway, time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, repo.SetGatewayPaymentID(ctx, created.ID, "pi_1"))
	require.NoError(t, repo.SetGatewayPaymentID(ctx, created.ID, "pi_2"))

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.GatewayPaymentID)
	assert.Equal(t, "pi_1", *stored.GatewayPaymentID)
}
