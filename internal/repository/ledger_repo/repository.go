package ledger_repo

import (
	"context"

	"wallet/internal/domain"
)

type LedgerRepository interface {
	AppendRecordTx(ctx context.Context, querier domain.Querier, rec *domain.TransactionRecord) error
	MarkStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.TransactionStatus) error
	GetRecordTx(ctx context.Context, querier domain.Querier, id string) (*domain.TransactionRecord, error)
	ListForAccountTx(ctx context.Context, querier domain.Querier, accountID string) ([]domain.TransactionRecord, error)
}
