package getorder

import (
	"context"
	"net/http"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/services/ordersvc"
	"github.com/corray333/labshop/internal/transport/http/v1/converters"
	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-chi/chi/v5"
)

type service interface {
	GetOrder(ctx context.Context, code string, viewer ordersvc.Viewer) (order.Order, error)
}

func GetOrder(w http.ResponseWriter, r *http.Request, service service) {
	id, _ := auth.FromContext(r.Context())

	o, err := service.GetOrder(r.Context(), chi.URLParam(r, "code"), ordersvc.Viewer{
		CustomerID: id.Subject,
		Admin:      id.IsAdmin(),
	})
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, converters.OrderToCustomerResponse(o))
}
