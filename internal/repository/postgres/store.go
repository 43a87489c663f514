// Package postgres binds the SQL repositories into domain.Store units of work.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"wallet/internal/domain"
	"wallet/internal/repository/accounts_repo"
	"wallet/internal/repository/idempotency_repo"
	"wallet/internal/repository/ledger_repo"
	"wallet/internal/repository/outbox_repo"
	"wallet/internal/repository/pgerr"
)

type Store struct {
	db          *sql.DB
	accounts    accounts_repo.AccountRepository
	ledger      ledger_repo.LedgerRepository
	idempotency idempotency_repo.IdempotencyRepository
	outbox      outbox_repo.OutboxRepository
	logger      *zap.Logger
}

func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:          db,
		accounts:    accounts_repo.NewAccountRepository(),
		ledger:      ledger_repo.NewLedgerRepository(),
		idempotency: idempotency_repo.NewIdempotencyRepository(),
		outbox:      outbox_repo.NewOutboxRepository(),
		logger:      logger,
	}
}

// WithinTx runs fn in a read-committed transaction. Row locks taken by the
// repositories serialize concurrent adjustments of the same account.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return pgerr.Classify(err, "failed to begin transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic inside transaction, rolling back", zap.Any("panic", r))
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, &unitOfWork{store: s, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return pgerr.Classify(err, "failed to commit transaction")
	}
	return nil
}

func (s *Store) ResolveAlias(ctx context.Context, alias string) (string, error) {
	return s.accounts.ResolveAliasTx(ctx, s.db, alias)
}

func (s *Store) GetPendingMessages(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return s.outbox.GetPendingMessages(ctx, s.db, limit)
}

func (s *Store) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return s.outbox.MarkSentTx(ctx, s.db, id, sentAt)
}

func (s *Store) MarkAttemptFailed(ctx context.Context, id string, maxAttempts int) error {
	return s.outbox.MarkAttemptFailedTx(ctx, s.db, id, maxAttempts)
}

// Ping reports whether the database accepts connections.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return pgerr.Classify(err, "database ping failed")
	}
	return nil
}

type unitOfWork struct {
	store *Store
	tx    *sql.Tx
}

func (u *unitOfWork) Accounts() domain.AccountStore { return accountStore{u} }
func (u *unitOfWork) Ledger() domain.LedgerStore { return ledgerStore{u} }
func (u *unitOfWork) Idempotency() domain.IdempotencyStore { return idempotencyStore{u} }
func (u *unitOfWork) Outbox() domain.OutboxStore { return outboxStore{u} }

type accountStore struct{ u *unitOfWork }

func (a accountStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	return a.u.store.accounts.CreateAccountTx(ctx, a.u.tx, account)
}

func (a accountStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return a.u.store.accounts.GetAccountTx(ctx, a.u.tx, id)
}

func (a accountStore) AdjustBalance(ctx context.Context, id string, delta int64) (*domain.Account, error) {
	return a.u.store.accounts.AdjustBalanceTx(ctx, a.u.tx, id, delta)
}

func (a accountStore) AddAlias(ctx context.Context, alias, accountID string) error {
	return a.u.store.accounts.AddAliasTx(ctx, a.u.tx, alias, accountID)
}

type ledgerStore struct{ u *unitOfWork }

func (l ledgerStore) AppendRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	return l.u.store.ledger.AppendRecordTx(ctx, l.u.tx, rec)
}

func (l ledgerStore) MarkStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	return l.u.store.ledger.MarkStatusTx(ctx, l.u.tx, id, status)
}

func (l ledgerStore) GetRecord(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	return l.u.store.ledger.GetRecordTx(ctx, l.u.tx, id)
}

func (l ledgerStore) ListForAccount(ctx context.Context, accountID string) ([]domain.TransactionRecord, error) {
	return l.u.store.ledger.ListForAccountTx(ctx, l.u.tx, accountID)
}

type idempotencyStore struct{ u *unitOfWork }

func (i idempotencyStore) GetKey(ctx context.Context, key string) (*domain.IdempotencyEntry, error) {
	return i.u.store.idempotency.GetKeyTx(ctx, i.u.tx, key)
}

func (i idempotencyStore) ReserveKey(ctx context.Context, entry *domain.IdempotencyEntry) error {
	return i.u.store.idempotency.ReserveKeyTx(ctx, i.u.tx, entry)
}

func (i idempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	return i.u.store.idempotency.ReleaseKeyTx(ctx, i.u.tx, key)
}

type outboxStore struct{ u *unitOfWork }

func (o outboxStore) CreateMessage(ctx context.Context, msg *domain.OutboxMessage) error {
	return o.u.store.outbox.CreateMessageTx(ctx, o.u.tx, msg)
}
