package ioutboxrepo

import (
	"context"
	"time"

	"github.com/corray333/labshop/internal/service/models/outbox"
	"github.com/corray333/labshop/internal/service/models/retry"
)

type IOutboxRepository interface {
	// Park stores an unpublished message. Parking the same message id twice is a no-op.
	Park(ctx context.Context, msg outbox.Message) error

	// Due returns up to limit messages whose next attempt is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]outbox.Message, error)

	Remove(ctx context.Context, id int64) error

	Reschedule(ctx context.Context, id int64, schedule retry.Schedule) error
}
