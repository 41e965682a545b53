package outbox

import (
	"time"

	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/retry"
)

// Message is a notification request the broker did not accept, waiting to be republished.
type Message struct {
	ID          int64
	MessageID   string
	Kind        notification.Kind
	Exchange    string
	RoutingKey  string
	ContentType string
	Payload     []byte
	ParkedAt    time.Time
	Retry       retry.Schedule
}
