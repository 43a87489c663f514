package idempotency_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wallet/internal/domain"
	"wallet/internal/repository/pgerr"
)

type idempotencyRepository struct{}

func NewIdempotencyRepository() *idempotencyRepository {
	return &idempotencyRepository{}
}

// GetKeyTx returns (nil, nil) when the key was never reserved.
func (r *idempotencyRepository) GetKeyTx(ctx context.Context, querier domain.Querier, key string) (*domain.IdempotencyEntry, error) {
	query := `
		SELECT key, fingerprint, transaction_id, created_at
		FROM idempotency_keys
		WHERE key = $1
	`
	entry := &domain.IdempotencyEntry{}
	err := querier.QueryRowContext(ctx, query, key).Scan(
		&entry.Key,
		&entry.Fingerprint,
		&entry.TransactionID,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pgerr.Classify(err, fmt.Sprintf("failed to get idempotency key %s", key))
	}
	return entry, nil
}

func (r *idempotencyRepository) ReserveKeyTx(ctx context.Context, querier domain.Querier, entry *domain.IdempotencyEntry) error {
	query := `
		INSERT INTO idempotency_keys (key, fingerprint, transaction_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := querier.ExecContext(ctx, query, entry.Key, entry.Fingerprint, entry.TransactionID, entry.CreatedAt)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return domain.NewError(domain.KindConflict, fmt.Sprintf("idempotency key %s already reserved", entry.Key), err)
		}
		return pgerr.Classify(err, fmt.Sprintf("failed to reserve idempotency key %s", entry.Key))
	}
	return nil
}

func (r *idempotencyRepository) ReleaseKeyTx(ctx context.Context, querier domain.Querier, key string) error {
	_, err := querier.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	if err != nil {
		return pgerr.Classify(err, fmt.Sprintf("failed to release idempotency key %s", key))
	}
	return nil
}
