package expirysvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corray333/labshop/internal/config"
	"github.com/corray333/labshop/internal/dal/interfaces/iorderrepo"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/order"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const noticeConcurrency = 8

type notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

// Result reports one sweep run.
type Result struct {
	ExpiredCount int `json:"expiredCount"`
	// Candidates is the number of orders selected before the guarded update.
	Candidates int `json:"candidates"`
}

// ExpiryService expires orders whose payment window has closed.
type ExpiryService struct {
	orderRepo  iorderrepo.IOrderRepository
	notifier   notifier
	cfg        config.Fulfillment
	now        func() time.Time
	expiredCnt metric.Int64Counter
}

type option func(*ExpiryService)

// MustNewExpiryService creates a new ExpiryService.
func MustNewExpiryService(opts ...option) *ExpiryService {
	s := &ExpiryService{
		cfg: config.Fulfillment{}.WithDefaults(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.orderRepo == nil || s.notifier == nil {
		panic("expirysvc: order repository and notifier are required")
	}

	counter, err := otel.Meter("expirysvc").Int64Counter(
		"labshop.orders.expired",
		metric.WithDescription("Orders expired by the sweeper"),
	)
	if err != nil {
		panic(err)
	}
	s.expiredCnt = counter

	return s
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithOrderRepository(repo iorderrepo.IOrderRepository) option {
	return func(s *ExpiryService) {
		s.orderRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithNotifier(n notifier) option {
	return func(s *ExpiryService) {
		s.notifier = n
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithFulfillmentConfig(cfg config.Fulfillment) option {
	return func(s *ExpiryService) {
		s.cfg = cfg.WithDefaults()
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *ExpiryService) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweep expires one batch of overdue orders. It is safe to run concurrently with itself
// and with payment confirmation: the update re-checks the predicate per row, and notices go
// only to the rows it returned.
func (s *ExpiryService) Sweep(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.Sweep")
	defer span.End()

	now := s.now().UTC()
	model := order.ExpiryCandidatesModel{
		Now:           now,
		GatewayCutoff: now.Add(-s.cfg.GatewayAbandonGrace),
		Limit:         s.cfg.SweepBatchSize,
	}

	ids, err := s.orderRepo.ListExpiryCandidates(ctx, model)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}
	if len(ids) == 0 {
		return Result{}, nil
	}

	expired, err := s.orderRepo.ExpireBatch(ctx, ids, model)
	if err != nil {
		return Result{Candidates: len(ids)}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	s.expiredCnt.Add(ctx, int64(len(expired)))
	if len(expired) > 0 {
		slog.Info("Expired overdue orders", "expired", len(expired), "candidates", len(ids))
	}

	s.sendNotices(context.WithoutCancel(ctx), expired)

	return Result{ExpiredCount: len(expired), Candidates: len(ids)}, nil
}

func (s *ExpiryService) sendNotices(ctx context.Context, expired []order.Order) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(noticeConcurrency)

	for _, o := range expired {
		g.Go(func() error {
			msg := notification.New(notification.KindOrderExpired, o.CustomerEmail, notification.OrderData(o))
			if err := s.notifier.Notify(gctx, msg); err != nil {
				slog.Error("Failed to enqueue expiration notice", "order_id", o.ID, "order_code", o.Code, "error", err)
			}

			return nil
		})
	}

	_ = g.Wait()
}
