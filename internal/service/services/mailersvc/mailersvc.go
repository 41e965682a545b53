package mailersvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corray333/labshop/internal/dal/interfaces/ideliveryrepo"
	"github.com/corray333/labshop/internal/service/models/notification"
	"go.opentelemetry.io/otel"
)

type sender interface {
	Send(ctx context.Context, email Email) error
}

// MailerService delivers notification messages as emails, at most once per message id.
type MailerService struct {
	deliveryRepo ideliveryrepo.IDeliveryRepository
	renderer     *Renderer
	sender       sender
}

// option is a function that configures the MailerService.
type option func(*MailerService)

// MustNewMailerService creates a new MailerService.
func MustNewMailerService(opts ...option) *MailerService {
	s := &MailerService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.deliveryRepo == nil || s.sender == nil {
		panic("mailersvc: delivery repository and sender are required")
	}
	if s.renderer == nil {
		s.renderer = NewRenderer(nil)
	}

	return s
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithDeliveryRepository(repo ideliveryrepo.IDeliveryRepository) option {
	return func(s *MailerService) {
		s.deliveryRepo = repo
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithRenderer(r *Renderer) option {
	return func(s *MailerService) {
		s.renderer = r
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithSender(snd sender) option {
	return func(s *MailerService) {
		s.sender = snd
	}
}

// Deliver renders and sends msg unless it was already delivered.
func (s *MailerService) Deliver(ctx context.Context, msg notification.Message) error {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.Deliver")
	defer span.End()

	if msg.MessageID == "" {
		return fmt.Errorf("notification has no message id")
	}

	delivered, err := s.deliveryRepo.IsDelivered(ctx, msg.MessageID)
	if err != nil {
		return err
	}
	if delivered {
		slog.Info("Skipping already delivered notification", "message_id", msg.MessageID, "kind", msg.Kind)

		return nil
	}

	email, err := s.renderer.Render(msg)
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, email); err != nil {
		slog.Error("Failed to send email", "message_id", msg.MessageID, "kind", msg.Kind, "error", err)

		return err
	}

	if err := s.deliveryRepo.MarkDelivered(ctx, msg); err != nil {
		// The email went out; a redelivery may send it again.
		slog.Error("Failed to record delivery", "message_id", msg.MessageID, "error", err)
	}

	slog.Info("Notification delivered", "message_id", msg.MessageID, "kind", msg.Kind)

	return nil
}
