package idempotency_repo

import (
	"context"

	"wallet/internal/domain"
)

type IdempotencyRepository interface {
	GetKeyTx(ctx context.Context, querier domain.Querier, key string) (*domain.IdempotencyEntry, error)
	ReserveKeyTx(ctx context.Context, querier domain.Querier, entry *domain.IdempotencyEntry) error
	ReleaseKeyTx(ctx context.Context, querier domain.Querier, key string) error
}
