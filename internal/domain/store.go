package domain

import "context"

// AccountStore is the account repository as seen from inside a unit of work.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	// AdjustBalance applies balance += delta only when the result stays
	// non-negative. It fails with ErrInsufficientFunds otherwise.
	AdjustBalance(ctx context.Context, id string, delta int64) (*Account, error)
	AddAlias(ctx context.Context, alias, accountID string) error
}

// LedgerStore is the append-mostly transaction ledger.
type LedgerStore interface {
	// AppendRecord inserts rec with status pending.
	AppendRecord(ctx context.Context, rec *TransactionRecord) error
	// MarkStatus moves a pending record to a terminal status.
	MarkStatus(ctx context.Context, id string, status TransactionStatus) error
	GetRecord(ctx context.Context, id string) (*TransactionRecord, error)
	// ListForAccount returns the account's completed and failed records, most
	// recent first. Pending records are not visible.
	ListForAccount(ctx context.Context, accountID string) ([]TransactionRecord, error)
}

type IdempotencyStore interface {
	GetKey(ctx context.Context, key string) (*IdempotencyEntry, error)
	// ReserveKey fails with ErrConflict when the key is already bound.
	ReserveKey(ctx context.Context, entry *IdempotencyEntry) error
	ReleaseKey(ctx context.Context, key string) error
}

type OutboxStore interface {
	CreateMessage(ctx context.Context, msg *OutboxMessage) error
}

// UnitOfWork exposes the repositories bound to one atomic scope.
type UnitOfWork interface {
	Accounts() AccountStore
	Ledger() LedgerStore
	Idempotency() IdempotencyStore
	Outbox() OutboxStore
}

// Store runs fn as one atomic unit. Every effect made through uow becomes
// visible on a nil return and none does otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// AliasResolver maps an external alias (e-mail, payment alias) to an account id.
type AliasResolver interface {
	ResolveAlias(ctx context.Context, alias string) (string, error)
}
