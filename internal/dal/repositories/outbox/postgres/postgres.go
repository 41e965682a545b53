package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/outbox"
	"github.com/corray333/labshop/internal/service/models/retry"
	"github.com/jackc/pgx/v5"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var outboxColumns = []string{
	"id",
	"message_id",
	"kind",
	"exchange_name",
	"routing_key",
	"content_type",
	"payload",
	"parked_at",
	"attempts",
	"max_attempts",
	"last_error",
	"next_attempt_at",
}

// OutboxRepository keeps notification requests that still have to reach the broker.
type OutboxRepository struct {
	conn postgres.GenericConn
}

func NewOutboxRepository(conn postgres.GenericConn) *OutboxRepository {
	return &OutboxRepository{conn: conn}
}

func (r *OutboxRepository) Park(ctx context.Context, msg outbox.Message) error {
	query, args, err := psql.Insert("outbox").
		Columns(outboxColumns[1:]...).
		Values(
			msg.MessageID,
			string(msg.Kind),
			msg.Exchange,
			msg.RoutingKey,
			msg.ContentType,
			msg.Payload,
			msg.ParkedAt,
			msg.Retry.Attempts,
			msg.Retry.MaxAttempts,
			msg.Retry.LastError,
			msg.Retry.NextAttemptAt,
		).
		Suffix("ON CONFLICT (message_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to park outbox message: %w", err)
	}

	return nil
}

// Due returns the oldest scheduled messages first.
func (r *OutboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]outbox.Message, error) {
	query, args, err := psql.Select(outboxColumns...).
		From("outbox").
		Where(sq.LtOrEq{"next_attempt_at": now}).
		Where("attempts < max_attempts").
		OrderBy("next_attempt_at ASC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due outbox messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox message: %w", err)
	}

	return messages, nil
}

func (r *OutboxRepository) Remove(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("outbox").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to remove outbox message: %w", err)
	}

	return nil
}

func (r *OutboxRepository) Reschedule(ctx context.Context, id int64, schedule retry.Schedule) error {
	query, args, err := psql.Update("outbox").
		Set("attempts", schedule.Attempts).
		Set("last_error", schedule.LastError).
		Set("next_attempt_at", schedule.NextAttemptAt).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reschedule outbox message %d: %w", id, err)
	}

	return nil
}

func scanMessage(row pgx.CollectableRow) (outbox.Message, error) {
	var (
		msg  outbox.Message
		kind string
	)
	err := row.Scan(
		&msg.ID,
		&msg.MessageID,
		&kind,
		&msg.Exchange,
		&msg.RoutingKey,
		&msg.ContentType,
		&msg.Payload,
		&msg.ParkedAt,
		&msg.Retry.Attempts,
		&msg.Retry.MaxAttempts,
		&msg.Retry.LastError,
		&msg.Retry.NextAttemptAt,
	)
	msg.Kind = notification.Kind(kind)

	return msg, err
}
