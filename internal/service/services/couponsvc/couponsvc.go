package couponsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corray333/labshop/internal/dal/interfaces/icouponrepo"
	"github.com/corray333/labshop/internal/service/errs"
	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var hundred = decimal.NewFromInt(100)

// CouponService validates discount codes. It never changes usage counters.
type CouponService struct {
	couponRepo icouponrepo.ICouponRepository
	now        func() time.Time
}

type option func(*CouponService)

// MustNewCouponService creates a new CouponService.
func MustNewCouponService(opts ...option) *CouponService {
	s := &CouponService{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.couponRepo == nil {
		panic("couponsvc: coupon repository is required")
	}

	return s
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithCouponRepository(repo icouponrepo.ICouponRepository) option {
	return func(s *CouponService) {
		s.couponRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *CouponService) {
		if now != nil {
			s.now = now
		}
	}
}

// Validate checks code against subtotalCents. Rule failures are reported in the result;
// only a blank code or a storage failure is an error.
func (s *CouponService) Validate(ctx context.Context, code string, subtotalCents int64) (coupon.Validation, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.ValidateCoupon")
	defer span.End()

	normalized := coupon.NormalizeCode(code)
	if normalized == "" {
		return coupon.Validation{}, fmt.Errorf("%w: coupon code is empty", errs.ErrValidation)
	}
	if subtotalCents < 0 {
		return coupon.Validation{}, fmt.Errorf("%w: negative subtotal", errs.ErrValidation)
	}

	c, err := s.couponRepo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return reject(normalized, coupon.ReasonNotFound), nil
		}

		return coupon.Validation{}, fmt.Errorf("%w: %w", errs.ErrDependency, err)
	}

	return Evaluate(c, subtotalCents, s.now()), nil
}

// Evaluate applies the coupon rules in order and stops at the first failure.
func Evaluate(c coupon.Coupon, subtotalCents int64, now time.Time) coupon.Validation {
	code := coupon.NormalizeCode(c.Code)

	switch {
	case !c.Active:
		return reject(code, coupon.ReasonInactive)
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return reject(code, coupon.ReasonExpired)
	case c.UsageCap != nil && c.UsageCount >= *c.UsageCap:
		return reject(code, coupon.ReasonUsageExhausted)
	case c.MinimumPurchase != nil && subtotalCents < *c.MinimumPurchase:
		return reject(code, coupon.ReasonBelowMinimum)
	}

	return coupon.Validation{
		Valid:         true,
		Code:          code,
		DiscountCents: Discount(c, subtotalCents),
	}
}

// Discount computes the discount for subtotalCents, never more than the subtotal.
func Discount(c coupon.Coupon, subtotalCents int64) int64 {
	subtotal := decimal.NewFromInt(subtotalCents)

	var discount decimal.Decimal
	switch c.Kind {
	case coupon.KindPercentage:
		// Round is half away from zero.
		discount = subtotal.Mul(c.Value).Div(hundred).Round(0)
	case coupon.KindFixed:
		discount = decimal.Min(c.Value.Round(0), subtotal)
	default:
		return 0
	}

	if discount.IsNegative() {
		return 0
	}
	if discount.GreaterThan(subtotal) {
		return subtotalCents
	}

	return discount.IntPart()
}

func reject(code string, reason coupon.Reason) coupon.Validation {
	return coupon.Validation{Valid: false, Code: code, Reason: reason}
}
