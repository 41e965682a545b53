package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/corray333/labshop/internal/service/models/coupon"
	"github.com/corray333/labshop/internal/service/models/order"
	"github.com/corray333/labshop/internal/service/models/payment"
	"github.com/corray333/labshop/internal/service/services/capacitysvc"
	"github.com/corray333/labshop/internal/service/services/expirysvc"
	"github.com/corray333/labshop/internal/service/services/ordersvc"
	"github.com/corray333/labshop/internal/service/services/paymentsvc"
	"github.com/corray333/labshop/internal/transport/http/v1/adminorders"
	"github.com/corray333/labshop/internal/transport/http/v1/createorder"
	"github.com/corray333/labshop/internal/transport/http/v1/estimate"
	"github.com/corray333/labshop/internal/transport/http/v1/getorder"
	"github.com/corray333/labshop/internal/transport/http/v1/paymentsession"
	"github.com/corray333/labshop/internal/transport/http/v1/transferproof"
	"github.com/corray333/labshop/internal/transport/http/v1/validatecoupon"
	"github.com/corray333/labshop/internal/transport/http/v1/webhook"
	"github.com/corray333/labshop/pkg/http/middleware/auth"
	"github.com/corray333/labshop/pkg/http/middleware/idempotency"
	"github.com/corray333/labshop/pkg/http/middleware/trace"
	"github.com/corray333/labshop/pkg/http/respond"
	"github.com/corray333/labshop/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
)

type orderService interface {
	CreateOrder(ctx context.Context, cmd ordersvc.CreateOrderCommand) (ordersvc.CreateOrderResult, error)
	CreatePaymentSession(ctx context.Context, code string, customerID string) (payment.CheckoutSession, error)
	GetOrder(ctx context.Context, code string, viewer ordersvc.Viewer) (order.Order, error)
	GetOrderByID(ctx context.Context, id int64) (order.Order, error)
	ListOrders(ctx context.Context, filter order.QueryOrdersModel) ([]order.Order, error)
	SetState(ctx context.Context, id int64, target order.State) (ordersvc.SetStateResult, error)
}

type paymentService interface {
	ConfirmPayment(ctx context.Context, orderID int64, source order.ConfirmationSource) (paymentsvc.ConfirmResult, error)
	ReportTransferProof(ctx context.Context, code string, customerID string, note string) (order.Order, error)
	HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error
}

type couponService interface {
	Validate(ctx context.Context, code string, subtotalCents int64) (coupon.Validation, error)
}

type estimator interface {
	Snapshot(ctx context.Context) capacitysvc.Snapshot
}

type sweeper interface {
	Sweep(ctx context.Context) (expirysvc.Result, error)
}

// Services bundles the handlers' collaborators.
type Services struct {
	Orders    orderService
	Payments  paymentService
	Coupons   couponService
	Estimator estimator
	Sweeper   sweeper
	// Idempotency may be nil, which disables Idempotency-Key replay.
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Auth           *auth.Authenticator
	// Ready reports storage health for /healthz.
	Ready func(ctx context.Context) error
}

type HTTPTransport struct {
	server   *http.Server
	router   *chi.Mux
	services Services
}

func NewHTTPTransport(services Services) *HTTPTransport {
	router := newRouter()
	server := newServer(router)

	return &HTTPTransport{
		server:   server,
		router:   router,
		services: services,
	}
}

// Handler exposes the router, mainly for tests.
func (h *HTTPTransport) Handler() http.Handler {
	return h.router
}

func (h *HTTPTransport) Run() error {
	slog.Info("Starting HTTP server", "address", h.server.Addr)

	return h.server.ListenAndServe()
}

func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	s := h.services

	h.router.Get("/healthz", h.healthz)

	h.router.Route("/api", func(r chi.Router) {
		r.Get("/delivery-estimate", func(w http.ResponseWriter, r *http.Request) {
			estimate.DeliveryEstimate(w, r, s.Estimator)
		})
		r.Post("/coupons/validate", func(w http.ResponseWriter, r *http.Request) {
			validatecoupon.ValidateCoupon(w, r, s.Coupons)
		})
		r.Post("/webhooks/stripe", func(w http.ResponseWriter, r *http.Request) {
			webhook.StripeWebhook(w, r, s.Payments)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.Require)

			r.With(idempotency.Middleware(s.Idempotency, s.IdempotencyTTL)).
				Post("/orders", func(w http.ResponseWriter, r *http.Request) {
					createorder.CreateOrder(w, r, s.Orders)
				})
			r.Get("/orders/{code}", func(w http.ResponseWriter, r *http.Request) {
				getorder.GetOrder(w, r, s.Orders)
			})
			r.Post("/orders/{code}/transfer-proof", func(w http.ResponseWriter, r *http.Request) {
				transferproof.ReportTransferProof(w, r, s.Payments)
			})
			r.Post("/orders/{code}/payment-session", func(w http.ResponseWriter, r *http.Request) {
				paymentsession.CreatePaymentSession(w, r, s.Orders)
			})

			r.Route("/admin/orders", func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					adminorders.ListOrders(w, r, s.Orders)
				})
				r.Post("/", func(w http.ResponseWriter, r *http.Request) {
					createorder.CreateManualOrder(w, r, s.Orders)
				})
				r.Post("/sweep", func(w http.ResponseWriter, r *http.Request) {
					adminorders.Sweep(w, r, s.Sweeper)
				})
				r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
					adminorders.GetOrder(w, r, s.Orders)
				})
				r.Post("/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
					adminorders.ConfirmPayment(w, r, s.Payments)
				})
				r.Put("/{id}/state", func(w http.ResponseWriter, r *http.Request) {
					adminorders.SetState(w, r, s.Orders)
				})
			})
		})
	})
}

func (h *HTTPTransport) healthz(w http.ResponseWriter, r *http.Request) {
	if h.services.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.services.Ready(ctx); err != nil {
			slog.Warn("Health check failed", "error", err)
			respond.Error(w, r, http.StatusServiceUnavailable, "dependency_unavailable", "storage unavailable")

			return
		}
	}

	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(trace.New("http"))
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	c := cors.New(cors.Options{
		AllowedOrigins:   viper.GetStringSlice("server.http.cors.allowed_origins"),
		AllowedMethods:   viper.GetStringSlice("server.http.cors.allowed_methods"),
		AllowedHeaders:   viper.GetStringSlice("server.http.cors.allowed_headers"),
		ExposedHeaders:   viper.GetStringSlice("server.http.cors.exposed_headers"),
		AllowCredentials: viper.GetBool("server.http.cors.allow_credentials"),
		MaxAge:           viper.GetInt("server.http.cors.max_age"),
	})
	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:              "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
