package paymentsession

import (
	"context"
	"net/http"

	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-chi/chi/v5"
)

type service interface {
	CreatePaymentSession(ctx context.Context, code string, customerID string) (payment.CheckoutSession, error)
}

// CreatePaymentSession opens a fresh checkout session for an unpaid gateway order.
func CreatePaymentSession(w http.ResponseWriter, r *http.Request, service service) {
	id, _ := auth.FromContext(r.Context())

	session, err := service.CreatePaymentSession(r.Context(), chi.URLParam(r, "code"), id.Subject)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusCreated, session)
}
