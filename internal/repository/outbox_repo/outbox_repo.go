package outbox_repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wallet/internal/domain"
	"wallet/internal/repository/pgerr"
)

type outboxRepository struct{}

func NewOutboxRepository() *outboxRepository {
	return &outboxRepository{}
}

func (r *outboxRepository) CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, aggregate_id, message_type, topic, key, payload, status, attempts, created_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	var sentAt sql.NullTime
	if msg.SentAt != nil {
		sentAt = sql.NullTime{Time: *msg.SentAt, Valid: true}
	}

	_, err := querier.ExecContext(ctx, query,
		msg.ID,
		msg.AggregateID,
		msg.MessageType,
		msg.Topic,
		msg.Key,
		msg.Payload,
		msg.Status,
		msg.Attempts,
		msg.CreatedAt,
		sentAt,
	)
	if err != nil {
		return pgerr.Classify(err, "failed to create outbox message")
	}
	return nil
}

func (r *outboxRepository) GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_id, message_type, topic, key, payload, status, attempts, created_at, sent_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := querier.QueryContext(ctx, query, domain.OutboxStatusPending, limit)
	if err != nil {
		return nil, pgerr.Classify(err, "failed to get pending outbox messages")
	}
	defer rows.Close()

	var messages []domain.OutboxMessage
	for rows.Next() {
		msg := domain.OutboxMessage{}
		var sentAt sql.NullTime
		err := rows.Scan(
			&msg.ID,
			&msg.AggregateID,
			&msg.MessageType,
			&msg.Topic,
			&msg.Key,
			&msg.Payload,
			&msg.Status,
			&msg.Attempts,
			&msg.CreatedAt,
			&sentAt,
		)
		if err != nil {
			return nil, pgerr.Classify(err, "failed to scan outbox message")
		}
		if sentAt.Valid {
			msg.SentAt = &sentAt.Time
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "error iterating outbox messages")
	}

	return messages, nil
}

func (r *outboxRepository) MarkSentTx(ctx context.Context, querier domain.Querier, id string, sentAt time.Time) error {
	query := `
		UPDATE outbox_messages
		SET status = $1, sent_at = $2
		WHERE id = $3
	`
	res, err := querier.ExecContext(ctx, query, domain.OutboxStatusSent, sentAt, id)
	if err != nil {
		return pgerr.Classify(err, fmt.Sprintf("failed to mark outbox message %s as sent", id))
	}
	return requireOneRow(res, id)
}

// MarkAttemptFailedTx bumps the attempt counter and parks the message as
// FAILED once maxAttempts is reached.
func (r *outboxRepository) MarkAttemptFailedTx(ctx context.Context, querier domain.Querier, id string, maxAttempts int) error {
	query := `
		UPDATE outbox_messages
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $1 THEN $2 ELSE status END
		WHERE id = $3
	`
	res, err := querier.ExecContext(ctx, query, maxAttempts, domain.OutboxStatusFailed, id)
	if err != nil {
		return pgerr.Classify(err, fmt.Sprintf("failed to record outbox attempt for %s", id))
	}
	return requireOneRow(res, id)
}

func requireOneRow(res sql.Result, id string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for outbox update (id %s): %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no outbox message found with id %s to update status", id)
	}
	return nil
}
