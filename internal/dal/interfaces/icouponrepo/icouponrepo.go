package icouponrepo

import (
	"context"

	"github.com/corray333/labshop/internal/service/models/coupon"
)

// ICouponRepository is an interface for the coupon repository.
type ICouponRepository interface {
	// FindByCode looks a coupon up case-insensitively.
	FindByCode(ctx context.Context, code string) (coupon.Coupon, error)
	// IncrementUsage bumps the usage counter of the coupon by one.
	IncrementUsage(ctx context.Context, code string) error
}
