package transferproof

import (
	"context"
	"net/http"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/transport/http/v1/converters"
	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type service interface {
	ReportTransferProof(ctx context.Context, code string, customerID string, note string) (order.Order, error)
}

var validate = validator.New()

type transferProofRequest struct {
	Note string `json:"note" validate:"max=4000"`
}

// ReportTransferProof records that the customer claims to have paid by transfer.
func ReportTransferProof(w http.ResponseWriter, r *http.Request, service service) {
	id, _ := auth.FromContext(r.Context())

	var req transferProofRequest
	if r.ContentLength != 0 {
		if err := respond.DecodeJSON(r, &req); err != nil {
			httperr.BadRequest(w, r, "Failed to decode request body")

			return
		}
	}
	if err := validate.Struct(&req); err != nil {
		httperr.Write(w, r, err)

		return
	}

	o, err := service.ReportTransferProof(r.Context(), chi.URLParam(r, "code"), id.Subject, req.Note)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, converters.OrderToCustomerResponse(o))
}
