package adminorders

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/services/expirysvc"
	"github.com/corray333/labshop/internal/service/services/ordersvc"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
	"github.com/corray333/labshop/internal/transport/http/v1/converters"
	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type orderService interface {
	ListOrders(ctx context.Context, filter order.QueryOrdersModel) ([]order.Order, error)
	GetOrderByID(ctx context.Context, id int64) (order.Order, error)
	SetState(ctx context.Context, id int64, target order.State) (ordersvc.SetStateResult, error)
}

type paymentService interface {
	ConfirmPayment(ctx context.Context, orderID int64, source order.ConfirmationSource) (paymentsvc.ConfirmResult, error)
}

type sweeper interface {
	Sweep(ctx context.Context) (expirysvc.Result, error)
}

var validate = validator.New()

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid order id %q", chi.URLParam(r, "id"))
	}

	return id, nil
}

// parseFilter reads repeated state and customerId parameters plus limit and offset.
func parseFilter(r *http.Request) (order.QueryOrdersModel, error) {
	q := r.URL.Query()
	var filter order.QueryOrdersModel

	for _, raw := range q["state"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := order.ParseState(part)
			if err != nil {
				return filter, fmt.Errorf("unknown state %q", part)
			}
			filter.States = append(filter.States, st)
		}
	}
	for _, customerID := range q["customerId"] {
		if customerID = strings.TrimSpace(customerID); customerID != "" {
			filter.CustomerIds = append(filter.CustomerIds, customerID)
		}
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
	}

	return filter, nil
}

func ListOrders(w http.ResponseWriter, r *http.Request, service orderService) {
	filter, err := parseFilter(r)
	if err != nil {
		httperr.BadRequest(w, r, err.Error())

		return
	}

	orders, err := service.ListOrders(r.Context(), filter)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{"orders": converters.OrdersToResponse(orders)})
}

func GetOrder(w http.ResponseWriter, r *http.Request, service orderService) {
	id, err := orderID(r)
	if err != nil {
		httperr.BadRequest(w, r, err.Error())

		return
	}

	o, err := service.GetOrderByID(r.Context(), id)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, converters.OrderToResponse(o))
}

type confirmResponse struct {
	Outcome paymentsvc.Outcome       `json:"outcome"`
	Order   converters.OrderResponse `json:"order"`
}

// ConfirmPayment is the explicit administrator confirmation of a verified payment.
func ConfirmPayment(w http.ResponseWriter, r *http.Request, service paymentService) {
	id, err := orderID(r)
	if err != nil {
		httperr.BadRequest(w, r, err.Error())

		return
	}

	result, err := service.ConfirmPayment(r.Context(), id, order.SourceAdminConfirm)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, confirmResponse{
		Outcome: result.Outcome,
		Order:   converters.OrderToResponse(result.Order),
	})
}

type setStateRequest struct {
	State string `json:"state" validate:"required"`
}

type setStateResponse struct {
	Order            converters.OrderResponse `json:"order"`
	AlreadyConfirmed bool                     `json:"alreadyConfirmed,omitempty"`
}

func SetState(w http.ResponseWriter, r *http.Request, service orderService) {
	id, err := orderID(r)
	if err != nil {
		httperr.BadRequest(w, r, err.Error())

		return
	}

	var req setStateRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		httperr.BadRequest(w, r, "Failed to decode request body")

		return
	}
	if err := validate.Struct(&req); err != nil {
		httperr.Write(w, r, err)

		return
	}
	target, err := order.ParseState(req.State)
	if err != nil {
		httperr.BadRequest(w, r, err.Error())

		return
	}

	result, err := service.SetState(r.Context(), id, target)
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, setStateResponse{
		Order:            converters.OrderToResponse(result.Order),
		AlreadyConfirmed: result.AlreadyConfirmed,
	})
}

// Sweep expires overdue orders on demand.
func Sweep(w http.ResponseWriter, r *http.Request, service sweeper) {
	result, err := service.Sweep(r.Context())
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, result)
}
