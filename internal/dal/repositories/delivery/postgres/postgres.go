package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/models/notification"
)

// DeliveryRepository records which notifications were already sent.
type DeliveryRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

func NewDeliveryRepository(conn postgres.GenericConn) *DeliveryRepository {
	return &DeliveryRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *DeliveryRepository) IsDelivered(ctx context.Context, messageID string) (bool, error) {
	query, args, err := r.sb.Select("1").
		Prefix("SELECT EXISTS(").
		From("deliveries").
		Where(sq.Eq{"message_id": messageID}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build select query: %w", err)
	}

	var exists bool
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check delivery: %w", err)
	}

	return exists, nil
}

func (r *DeliveryRepository) MarkDelivered(ctx context.Context, msg notification.Message) error {
	query, args, err := r.sb.Insert("deliveries").
		Columns("message_id", "kind", "recipient", "delivered_at").
		Values(msg.MessageID, string(msg.Kind), msg.Recipient, time.Now()).
		Suffix("ON CONFLICT (message_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	return nil
}
