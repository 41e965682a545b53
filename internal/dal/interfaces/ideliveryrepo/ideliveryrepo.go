package ideliveryrepo

import (
	"context"

	"github.com/corray333/labshop/internal/service/models/notification"
)

// IDeliveryRepository records delivered notification ids.
type IDeliveryRepository interface {
	IsDelivered(ctx context.Context, messageID string) (bool, error)
	MarkDelivered(ctx context.Context, msg notification.Message) error
}
