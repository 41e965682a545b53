package validatecoupon

import (
	"context"
	"net/http"

	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-playground/validator/v10"
)

type service interface {
	Validate(ctx context.Context, code string, subtotalCents int64) (coupon.Validation, error)
}

var validate = validator.New()

type validateCouponRequest struct {
	Code          string `json:"code" validate:"required,max=64"`
	SubtotalCents int64  `json:"subtotalCents" validate:"min=0"`
}

// ValidateCoupon previews a discount. Rejected codes are a 200 with valid=false and a reason.
func ValidateCoupon(w http.ResponseWriter, r *http.Request, service service) {
	var req validateCouponRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		httperr.BadRequest(w, r, "Failed to decode request body")

		return
	}
	if err := validate.Struct(&req); err != nil {
		httperr.Write(w, r, err)

		return
	}

	result, err := service.Validate(r.Context(), req.Code, req.SubtotalCents)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, result)
}
