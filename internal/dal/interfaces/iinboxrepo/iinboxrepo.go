package iinboxrepo

import (
	"context"
	"time"

	"github.com/corray333/labshop/internal/service/models/inbox"
	"github.com/corray333/labshop/internal/service/models/retry"
)

type IInboxRepository interface {
	// Park stores a failed delivery. A broker redelivery of a parked message id is a no-op.
	Park(ctx context.Context, msg inbox.Message) error

	// Due returns up to limit messages whose next attempt is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]inbox.Message, error)

	Remove(ctx context.Context, id int64) error

	Reschedule(ctx context.Context, id int64, schedule retry.Schedule) error
}
