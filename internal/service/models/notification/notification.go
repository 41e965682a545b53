package notification

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind selects the email template.
type Kind string

const (
	KindOrderPlaced           Kind = "order_placed"
	KindAdminNewOrder         Kind = "admin_new_order"
	KindPaymentConfirmed      Kind = "payment_confirmed"
	KindAdminPaymentConfirmed Kind = "admin_payment_confirmed"
	KindAdminTransferProof    Kind = "admin_transfer_proof"
	KindOrderExpired          Kind = "order_expired"
	KindOrderCancelled        Kind = "order_cancelled"
	KindOrderStatusChanged    Kind = "order_status_changed"
	KindAdminLatePayment      Kind = "admin_late_payment"
)

// Message is a fire-and-forget email request.
type Message struct {
	MessageID string         `json:"messageId"`
	Kind      Kind           `json:"kind"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
}

// New builds a message with a fresh id.
func New(kind Kind, recipient string, data map[string]any) Message {
	return Message{
		MessageID: uuid.NewString(),
		Kind:      kind,
		Recipient: recipient,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}

// Decode parses a published message. Numbers in Data are kept as json.Number.
func Decode(payload []byte) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}

	return msg, nil
}
