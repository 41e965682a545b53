package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/labshop/internal/dal/postgres"
	"github.com/corray333/labshop/internal/service/models/inbox"
	"github.com/corray333/labshop/internal/service/models/notification"
	"github.com/corray333/labshop/internal/service/models/retry"
	"github.com/jackc/pgx/v5"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var inboxColumns = []string{
	"id",
	"message_id",
	"kind",
	"payload",
	"parked_at",
	"attempts",
	"max_attempts",
	"last_error",
	"next_attempt_at",
}

// InboxRepository keeps consumed notifications whose email is still owed.
type InboxRepository struct {
	conn postgres.GenericConn
}

func NewInboxRepository(conn postgres.GenericConn) *InboxRepository {
	return &InboxRepository{conn: conn}
}

func (r *InboxRepository) Park(ctx context.Context, msg inbox.Message) error {
	query, args, err := psql.Insert("inbox").
		Columns(inboxColumns[1:]...).
		Values(
			msg.MessageID,
			string(msg.Kind),
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
		return fmt.Errorf("failed to park inbox message %s: %w", msg.MessageID, err)
	}

	return nil
}

func (r *InboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]inbox.Message, error) {
	query, args, err := psql.Select(inboxColumns...).
		From("inbox").
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
		return nil, fmt.Errorf("failed to query due inbox messages: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (inbox.Message, error) {
		var (
			msg  inbox.Message
			kind string
		)
		if err := row.Scan(
			&msg.ID,
			&msg.MessageID,
			&kind,
			&msg.Payload,
			&msg.ParkedAt,
			&msg.Retry.Attempts,
			&msg.Retry.MaxAttempts,
			&msg.Retry.LastError,
			&msg.Retry.NextAttemptAt,
		); err != nil {
			return inbox.Message{}, fmt.Errorf("failed to scan inbox message: %w", err)
		}
		msg.Kind = notification.Kind(kind)

		return msg, nil
	})
}

func (r *InboxRepository) Remove(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("inbox").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to remove inbox message: %w", err)
	}

	return nil
}

func (r *InboxRepository) Reschedule(ctx context.Context, id int64, schedule retry.Schedule) error {
	query, args, err := psql.Update("inbox").
		SetMap(map[string]any{
			"attempts":        schedule.Attempts,
			"last_error":      schedule.LastError,
			"next_attempt_at": schedule.NextAttemptAt,
		}).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reschedule inbox message %d: %w", id, err)
	}

	return nil
}
