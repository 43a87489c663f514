package accounts_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet/internal/domain"
	"wallet/internal/repository/pgerr"
)

type accountRepository struct{}

func NewAccountRepository() *accountRepository {
	return &accountRepository{}
}

func (r *accountRepository) CreateAccountTx(ctx context.Context, querier domain.Querier, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := querier.ExecContext(ctx, query, account.ID, account.Balance, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return domain.ErrAccountAlreadyExists
		}
		return pgerr.Classify(err, fmt.Sprintf("failed to create account %s", account.ID))
	}
	return nil
}

// GetAccountTx reads the committed balance without taking a row lock.
func (r *accountRepository) GetAccountTx(ctx context.Context, querier domain.Querier, id string) (*domain.Account, error) {
	query := `
		SELECT id, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	account := &domain.Account{}
	err := querier.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindAccountNotFound, fmt.Sprintf("account %s not found", id), nil)
		}
		return nil, pgerr.Classify(err, fmt.Sprintf("failed to get account %s", id))
	}
	return account, nil
}

// AdjustBalanceTx applies the delta and the non-negative precondition in one
// statement, so the row lock is held only for the rest of the enclosing tx.
func (r *accountRepository) AdjustBalanceTx(ctx context.Context, querier domain.Querier, id string, delta int64) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1, updated_at = $2
		WHERE id = $3 AND balance + $1 >= 0
		RETURNING id, balance, created_at, updated_at
	`
	account := &domain.Account{}
	err := querier.QueryRowContext(ctx, query, delta, time.Now().UTC(), id).Scan(
		&account.ID,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, pgerr.Classify(err, fmt.Sprintf("failed to adjust balance of account %s", id))
	}

	// No row updated: either the account is missing or the precondition failed.
	if _, getErr := r.GetAccountTx(ctx, querier, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.NewError(domain.KindInsufficientFunds,
		fmt.Sprintf("insufficient funds on account %s", id), nil)
}

func (r *accountRepository) AddAliasTx(ctx context.Context, querier domain.Querier, alias, accountID string) error {
	query := `
		INSERT INTO account_aliases (alias, account_id, created_at)
		VALUES ($1, $2, $3)
	`
	_, err := querier.ExecContext(ctx, query, alias, accountID, time.Now().UTC())
	if err != nil {
		if pgerr.IsUniqueViolation(err) {
			return domain.NewError(domain.KindAccountAlreadyExists, fmt.Sprintf("alias %s is already taken", alias), err)
		}
		return pgerr.Classify(err, fmt.Sprintf("failed to add alias %s", alias))
	}
	return nil
}

func (r *accountRepository) ResolveAliasTx(ctx context.Context, querier domain.Querier, alias string) (string, error) {
	query := `SELECT account_id FROM account_aliases WHERE alias = $1`
	var accountID string
	err := querier.QueryRowContext(ctx, query, alias).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NewError(domain.KindAccountNotFound, fmt.Sprintf("no account for alias %s", alias), nil)
		}
		return "", pgerr.Classify(err, fmt.Sprintf("failed to resolve alias %s", alias))
	}
	return accountID, nil
}
