package inbox

import (
	"time"

	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/retry"
)

// Message is a consumed notification whose email could not be sent yet.
type Message struct {
	ID        int64
	MessageID string
	Kind      notification.Kind
	Payload   []byte
	ParkedAt  time.Time
	Retry     retry.Schedule
}
