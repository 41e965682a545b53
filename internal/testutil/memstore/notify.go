package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/corray333/labshop/internal/service/models/inbox"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/outbox"
	"github.com/corray333/labshop/internal/service/models/retry"
)

// Notifier records every message it is asked to send.
type Notifier struct {
	mu       sync.Mutex
	messages []notification.Message
	// Err, when set, is returned instead of recording.
	Err error
}

func (n *Notifier) Notify(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.messages = append(n.messages, msg)

	return nil
}

func (n *Notifier) Messages() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]notification.Message(nil), n.messages...)
}

// ByKind returns the recorded messages of kind.
func (n *Notifier) ByKind(kind notification.Kind) []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := []notification.Message{}
	for _, msg := range n.messages {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}

	return out
}

// OutboxRepo is an in-memory ioutboxrepo.IOutboxRepository.
type OutboxRepo struct {
	mu       sync.Mutex
	nextID   int64
	Messages map[int64]outbox.Message
}

func NewOutboxRepo() *OutboxRepo {
	return &OutboxRepo{Messages: make(map[int64]outbox.Message)}
}

func (r *OutboxRepo) Park(_ context.Context, msg outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.Messages {
		if existing.MessageID == msg.MessageID {
			return nil
		}
	}
	r.nextID++
	msg.ID = r.nextID
	r.Messages[msg.ID] = msg

	return nil
}

func (r *OutboxRepo) Due(_ context.Context, now time.Time, limit int) ([]outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []outbox.Message{}
	for id := int64(1); id <= r.nextID && len(out) < limit; id++ {
		if msg, ok := r.Messages[id]; ok && isDue(msg.Retry, now) {
			out = append(out, msg)
		}
	}

	return out, nil
}

func (r *OutboxRepo) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Messages, id)

	return nil
}

func (r *OutboxRepo) Reschedule(_ context.Context, id int64, schedule retry.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.Messages[id]; ok {
		msg.Retry = schedule
		r.Messages[id] = msg
	}

	return nil
}

// Len returns the number of parked messages.
func (r *OutboxRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Messages)
}

// InboxRepo is an in-memory iinboxrepo.IInboxRepository.
type InboxRepo struct {
	mu       sync.Mutex
	nextID   int64
	Messages map[int64]inbox.Message
	// Err, when set, fails Park.
	Err error
}

func NewInboxRepo() *InboxRepo {
	return &InboxRepo{Messages: make(map[int64]inbox.Message)}
}

func (r *InboxRepo) Park(_ context.Context, msg inbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, existing := range r.Messages {
		if existing.MessageID == msg.MessageID {
			return nil
		}
	}
	r.nextID++
	msg.ID = r.nextID
	r.Messages[msg.ID] = msg

	return nil
}

func (r *InboxRepo) Due(_ context.Context, now time.Time, limit int) ([]inbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []inbox.Message{}
	for id := int64(1); id <= r.nextID && len(out) < limit; id++ {
		if msg, ok := r.Messages[id]; ok && isDue(msg.Retry, now) {
			out = append(out, msg)
		}
	}

	return out, nil
}

func (r *InboxRepo) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Messages, id)

	return nil
}

func (r *InboxRepo) Reschedule(_ context.Context, id int64, schedule retry.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg, ok := r.Messages[id]; ok {
		msg.Retry = schedule
		r.Messages[id] = msg
	}

	return nil
}

func (r *InboxRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.Messages)
}

func isDue(s retry.Schedule, now time.Time) bool {
	return !s.Exhausted() && !s.NextAttemptAt.After(now)
}

// DeliveryRepo is an in-memory ideliveryrepo.IDeliveryRepository.
type DeliveryRepo struct {
	mu        sync.Mutex
	delivered map[string]notification.Message
}

func NewDeliveryRepo() *DeliveryRepo {
	return &DeliveryRepo{delivered: make(map[string]notification.Message)}
}

func (r *DeliveryRepo) IsDelivered(_ context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.delivered[messageID]

	return ok, nil
}

func (r *DeliveryRepo) MarkDelivered(_ context.Context, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.delivered[msg.MessageID]; !ok {
		r.delivered[msg.MessageID] = msg
	}

	return nil
}

func (r *DeliveryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.delivered)
}
