package accounts_repo

import (
	"context"

	"wallet/internal/domain"
)

type AccountRepository interface {
	CreateAccountTx(ctx context.Context, querier domain.Querier, account *domain.Account) error
	GetAccountTx(ctx context.Context, querier domain.Querier, id string) (*domain.Account, error)
	AdjustBalanceTx(ctx context.Context, querier domain.Querier, id string, delta int64) (*domain.Account, error)
	AddAliasTx(ctx context.Context, querier domain.Querier, alias, accountID string) error
	ResolveAliasTx(ctx context.Context, querier domain.Querier, alias string) (string, error)
}
