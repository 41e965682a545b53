package createorder

import (
	"context"
	"net/http"
	"strings"

	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/services/ordersvc"
	"github.com/corray333/labshop/internal/transport/http/v1/converters"
	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/go-playground/validator/v10"
)

type service interface {
	CreateOrder(ctx context.Context, cmd ordersvc.CreateOrderCommand) (ordersvc.CreateOrderResult, error)
}

var validate = validator.New()

type itemRequest struct {
	ProductID      *int64 `json:"productId" validate:"omitempty,gt=0"`
	Title          string `json:"title" validate:"max=200"`
	Quantity       int    `json:"quantity" validate:"min=1,max=1000"`
	UnitPriceCents int64  `json:"unitPriceCents" validate:"min=0"`
}

type createOrderRequest struct {
	// CustomerID is only honoured for manual orders; checkout uses the token subject.
	CustomerID      string        `json:"customerId" validate:"max=128"`
	Email           string        `json:"email" validate:"omitempty,email,max=254"`
	Name            string        `json:"name" validate:"max=200"`
	ShippingOption  string        `json:"shippingOption" validate:"required,oneof=pickup delivery"`
	ShippingAddress string        `json:"shippingAddress" validate:"max=500"`
	PaymentMethod   string        `json:"paymentMethod" validate:"required,oneof=gateway bank_transfer"`
	CouponCode      string        `json:"couponCode" validate:"max=64"`
	Items           []itemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

func (req *createOrderRequest) toCommand(id auth.Identity, manual bool) ordersvc.CreateOrderCommand {
	cmd := ordersvc.CreateOrderCommand{
		CustomerID:      id.Subject,
		CustomerEmail:   firstNonEmpty(req.Email, id.Email),
		CustomerName:    firstNonEmpty(req.Name, id.Name),
		ShippingOption:  order.ShippingOption(req.ShippingOption),
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		CouponCode:      req.CouponCode,
		Manual:          manual,
		Items:           make([]ordersvc.ItemInput, len(req.Items)),
	}
	if manual {
		cmd.CustomerID = strings.TrimSpace(req.CustomerID)
		cmd.CustomerEmail = req.Email
		cmd.CustomerName = req.Name
	}
	for i, item := range req.Items {
		cmd.Items[i] = ordersvc.ItemInput{
			ProductID:      item.ProductID,
			Title:          strings.TrimSpace(item.Title),
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		}
	}

	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}

// CreateOrder handles storefront checkout for the authenticated customer.
func CreateOrder(w http.ResponseWriter, r *http.Request, service service) {
	create(w, r, service, false)
}

// CreateManualOrder handles orders entered by lab staff on behalf of a customer.
func CreateManualOrder(w http.ResponseWriter, r *http.Request, service service) {
	create(w, r, service, true)
}

func create(w http.ResponseWriter, r *http.Request, service service, manual bool) {
	id, _ := auth.FromContext(r.Context())

	var req createOrderRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		httperr.BadRequest(w, r, "Failed to decode request body")

		return
	}
	if err := validate.Struct(&req); err != nil {
		httperr.Write(w, r, err)

		return
	}
	if manual && strings.TrimSpace(req.CustomerID) == "" {
		httperr.BadRequest(w, r, "customerId is required for manual orders")

		return
	}

	result, err := service.CreateOrder(r.Context(), req.toCommand(id, manual))
	if err != nil {
		httperr.Write(w, r, err)

		return
	}

	if manual {
		respond.JSON(w, http.StatusCreated, converters.OrderToResponse(result.Order))

		return
	}

	body := converters.OrderToCustomerResponse(result.Order)
	body.CheckoutSession = result.CheckoutSession
	respond.JSON(w, http.StatusCreated, body)
}
