package outbox_repo

import (
	"context"
	"time"

	"wallet/internal/domain"
)

type OutboxRepository interface {
	CreateMessageTx(ctx context.Context, querier domain.Querier, msg *domain.OutboxMessage) error
	GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error)
	MarkSentTx(ctx context.Context, querier domain.Querier, id string, sentAt time.Time) error
	MarkAttemptFailedTx(ctx context.Context, querier domain.Querier, id string, maxAttempts int) error
}
