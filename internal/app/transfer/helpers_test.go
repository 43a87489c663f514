package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet/internal/domain"
	"wallet/internal/guard"
	"wallet/internal/repository/memory"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, store domain.Store, cfg Config) *Engine {
	t.Helper()
	return NewEngine(store, guard.NewLocal(guard.ModeBlock), cfg, zap.NewNop())
}

func openAccount(t *testing.T, e *Engine, balance int64) string {
	t.Helper()
	acc, err := e.OpenAccount(context.Background(), balance)
	require.NoError(t, err)
	return acc.ID
}

func balance(t *testing.T, e *Engine, id string) int64 {
	t.Helper()
	acc, err := e.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance
}

func history(t *testing.T, e *Engine, id string) []domain.TransactionRecord {
	t.Helper()
	seq, err := e.ListTransactions(context.Background(), id)
	require.NoError(t, err)
	var records []domain.TransactionRecord
	for rec := range seq {
		records = append(records, rec)
	}
	return records
}

// faultStore wraps the memory store and lets a test fail chosen steps of a
// unit of work.
type faultStore struct {
	*memory.Store

	mu sync.Mutex
	// beforeTx runs before every unit of work; a non-nil result fails it.
	beforeTx func(n int) error
	// onAdjust runs before every AdjustBalance; a non-nil result fails it.
	onAdjust func(accountID string, delta int64) error
	// onMarkStatus runs before every MarkStatus; a non-nil result fails it.
	onMarkStatus func(status domain.TransactionStatus) error
	// afterCommit runs after a unit of work has been applied; a non-nil
	// result is reported to the caller although the commit landed.
	afterCommit func(n int) error
	txCount     int
}

func newFaultStore() *faultStore {
	return &faultStore{Store: memory.NewStore()}
}

func (s *faultStore) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	s.mu.Lock()
	s.txCount++
	n := s.txCount
	before := s.beforeTx
	s.mu.Unlock()

	if before != nil {
		if err := before(n); err != nil {
			return err
		}
	}
	err := s.Store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return fn(ctx, faultUnitOfWork{UnitOfWork: uow, s: s})
	})
	if err == nil && s.afterCommit != nil {
		return s.afterCommit(n)
	}
	return err
}

func (s *faultStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

type faultUnitOfWork struct {
	domain.UnitOfWork
	s *faultStore
}

func (u faultUnitOfWork) Accounts() domain.AccountStore {
	return faultAccounts{AccountStore: u.UnitOfWork.Accounts(), s: u.s}
}

func (u faultUnitOfWork) Ledger() domain.LedgerStore {
	return faultLedger{LedgerStore: u.UnitOfWork.Ledger(), s: u.s}
}

type faultAccounts struct {
	domain.AccountStore
	s *faultStore
}

func (a faultAccounts) AdjustBalance(ctx context.Context, id string, delta int64) (*domain.Account, error) {
	if hook := a.s.onAdjust; hook != nil {
		if err := hook(id, delta); err != nil {
			return nil, err
		}
	}
	return a.AccountStore.AdjustBalance(ctx, id, delta)
}

type faultLedger struct {
	domain.LedgerStore
	s *faultStore
}

func (l faultLedger) MarkStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	if hook := l.s.onMarkStatus; hook != nil {
		if err := hook(status); err != nil {
			return err
		}
	}
	return l.LedgerStore.MarkStatus(ctx, id, status)
}
