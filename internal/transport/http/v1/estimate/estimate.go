package estimate

import (
	"context"
	"net/http"
	"time"

	"github.com/corray333/labshop/internal/service/services/capacitysvc"
	"github.com/corray333/labshop/pkg/http/respond"
)

type service interface {
	Snapshot(ctx context.Context) capacitysvc.Snapshot
}

type estimateResponse struct {
	PromisedDay string `json:"promisedDay"`
	capacitysvc.Snapshot
}

// DeliveryEstimate reports the date a new order would be promised right now.
func DeliveryEstimate(w http.ResponseWriter, r *http.Request, service service) {
	snap := service.Snapshot(r.Context())

	respond.JSON(w, http.StatusOK, estimateResponse{
		PromisedDay: snap.PromisedDate.Format(time.DateOnly),
		Snapshot:    snap,
	})
}
