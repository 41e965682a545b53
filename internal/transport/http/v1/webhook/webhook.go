package webhook

import (
	"context"
	"io"
	"net/http"

	"github.com/corray333/labshop/internal/transport/http/v1/httperr"
	"github.com/corray333/labshop/pkg/http/respond"
)

const maxBodyBytes = 65536

type service interface {
	HandleGatewayEvent(ctx context.Context, payload []byte, signature string) error
}

// StripeWebhook acknowledges every verified delivery. Processing failures are handled and
// logged by the service so the gateway does not retry them.
func StripeWebhook(w http.ResponseWriter, r *http.Request, service service) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httperr.BadRequest(w, r, "Failed to read request body")

		return
	}

	if err := service.HandleGatewayEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		httperr.Write(w, r, err)

		return
	}

	respond.JSON(w, http.StatusOK, map[string]bool{"received": true})
}
