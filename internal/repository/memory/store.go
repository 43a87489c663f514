// Package memory is an in-process domain.Store. Units of work run one at a
// time and stage their writes, which are applied on a nil return only.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"wallet/internal/domain"
)

type storedRecord struct {
	rec domain.TransactionRecord
	seq int64
}

type Store struct {
	// sem admits a single unit of work at a time.
	sem *semaphore.Weighted

	mu       sync.RWMutex
	accounts map[string]domain.Account
	aliases  map[string]string
	records  map[string]storedRecord
	keys     map[string]domain.IdempotencyEntry
	outbox   []domain.OutboxMessage
	seq      int64
}

func NewStore() *Store {
	return &Store{
		sem:      semaphore.NewWeighted(1),
		accounts: make(map[string]domain.Account),
		aliases:  make(map[string]string),
		records:  make(map[string]storedRecord),
		keys:     make(map[string]domain.IdempotencyEntry),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow domain.UnitOfWork) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// A caller that gave up before the commit point must see no effect.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

func (s *Store) apply(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, acc := range tx.accounts {
		s.accounts[id] = acc
	}
	for alias, id := range tx.aliases {
		s.aliases[alias] = id
	}
	for _, id := range tx.recordOrder {
		rec := tx.records[id]
		if existing, ok := s.records[id]; ok {
			existing.rec = rec
			s.records[id] = existing
			continue
		}
		s.seq++
		s.records[id] = storedRecord{rec: rec, seq: s.seq}
	}
	for key := range tx.releasedKeys {
		delete(s.keys, key)
	}
	for key, entry := range tx.keys {
		s.keys[key] = entry
	}
	s.outbox = append(s.outbox, tx.outbox...)
}

func (s *Store) ResolveAlias(_ context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliases[alias]
	if !ok {
		return "", domain.NewError(domain.KindAccountNotFound, fmt.Sprintf("no account for alias %s", alias), nil)
	}
	return id, nil
}

func (s *Store) GetPendingMessages(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []domain.OutboxMessage
	for _, msg := range s.outbox {
		if msg.Status != domain.OutboxStatusPending {
			continue
		}
		pending = append(pending, msg)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *Store) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	return s.updateOutbox(id, func(msg *domain.OutboxMessage) {
		msg.Status = domain.OutboxStatusSent
		msg.SentAt = &sentAt
	})
}

func (s *Store) MarkAttemptFailed(_ context.Context, id string, maxAttempts int) error {
	return s.updateOutbox(id, func(msg *domain.OutboxMessage) {
		msg.Attempts++
		if msg.Attempts >= maxAttempts {
			msg.Status = domain.OutboxStatusFailed
		}
	})
}

// OutboxMessages returns a copy of every outbox message in insertion order.
func (s *Store) OutboxMessages() []domain.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.OutboxMessage(nil), s.outbox...)
}

func (s *Store) updateOutbox(id string, fn func(msg *domain.OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("no outbox message found with id %s to update status", id)
}

// memTx holds the staged writes of one unit of work. Reads fall through to
// the committed state when nothing is staged.
type memTx struct {
	s            *Store
	accounts     map[string]domain.Account
	aliases      map[string]string
	records      map[string]domain.TransactionRecord
	recordOrder  []string
	keys         map[string]domain.IdempotencyEntry
	releasedKeys map[string]struct{}
	outbox       []domain.OutboxMessage
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:            s,
		accounts:     make(map[string]domain.Account),
		aliases:      make(map[string]string),
		records:      make(map[string]domain.TransactionRecord),
		keys:         make(map[string]domain.IdempotencyEntry),
		releasedKeys: make(map[string]struct{}),
	}
}

func (t *memTx) Accounts() domain.AccountStore { return t }
func (t *memTx) Ledger() domain.LedgerStore { return ledgerView{t} }
func (t *memTx) Idempotency() domain.IdempotencyStore { return t }
func (t *memTx) Outbox() domain.OutboxStore { return t }

func (t *memTx) account(id string) (domain.Account, bool) {
	if acc, ok := t.accounts[id]; ok {
		return acc, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	acc, ok := t.s.accounts[id]
	return acc, ok
}

func (t *memTx) CreateAccount(_ context.Context, account *domain.Account) error {
	if _, ok := t.account(account.ID); ok {
		return domain.ErrAccountAlreadyExists
	}
	if account.Balance < 0 {
		return domain.NewError(domain.KindInvalidAmount, "initial balance cannot be negative", nil)
	}
	t.accounts[account.ID] = *account
	return nil
}

func (t *memTx) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	acc, ok := t.account(id)
	if !ok {
		return nil, domain.NewError(domain.KindAccountNotFound, fmt.Sprintf("account %s not found", id), nil)
	}
	return &acc, nil
}

func (t *memTx) AdjustBalance(_ context.Context, id string, delta int64) (*domain.Account, error) {
	acc, ok := t.account(id)
	if !ok {
		return nil, domain.NewError(domain.KindAccountNotFound, fmt.Sprintf("account %s not found", id), nil)
	}
	if delta > 0 && acc.Balance > math.MaxInt64-delta {
		return nil, domain.NewError(domain.KindInvalidAmount, "amount out of range", nil)
	}
	if acc.Balance+delta < 0 {
		return nil, domain.NewError(domain.KindInsufficientFunds,
			fmt.Sprintf("insufficient funds on account %s", id), nil)
	}
	acc.Balance += delta
	acc.UpdatedAt = time.Now().UTC()
	t.accounts[id] = acc
	return &acc, nil
}

func (t *memTx) AddAlias(_ context.Context, alias, accountID string) error {
	if _, ok := t.account(accountID); !ok {
		return domain.NewError(domain.KindAccountNotFound, fmt.Sprintf("account %s not found", accountID), nil)
	}
	if _, ok := t.aliases[alias]; ok {
		return domain.NewError(domain.KindAccountAlreadyExists, fmt.Sprintf("alias %s is already taken", alias), nil)
	}
	t.s.mu.RLock()
	_, taken := t.s.aliases[alias]
	t.s.mu.RUnlock()
	if taken {
		return domain.NewError(domain.KindAccountAlreadyExists, fmt.Sprintf("alias %s is already taken", alias), nil)
	}
	t.aliases[alias] = accountID
	return nil
}

func (t *memTx) GetKey(_ context.Context, key string) (*domain.IdempotencyEntry, error) {
	if entry, ok := t.keys[key]; ok {
		return &entry, nil
	}
	if _, released := t.releasedKeys[key]; released {
		return nil, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if entry, ok := t.s.keys[key]; ok {
		return &entry, nil
	}
	return nil, nil
}

func (t *memTx) ReserveKey(ctx context.Context, entry *domain.IdempotencyEntry) error {
	existing, err := t.GetKey(ctx, entry.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.NewError(domain.KindConflict, fmt.Sprintf("idempotency key %s already reserved", entry.Key), nil)
	}
	t.keys[entry.Key] = *entry
	return nil
}

func (t *memTx) ReleaseKey(_ context.Context, key string) error {
	delete(t.keys, key)
	t.releasedKeys[key] = struct{}{}
	return nil
}

func (t *memTx) CreateMessage(_ context.Context, msg *domain.OutboxMessage) error {
	t.outbox = append(t.outbox, *msg)
	return nil
}

// ledgerView avoids a method clash between the ledger and the other stores.
type ledgerView struct{ t *memTx }

func (l ledgerView) record(id string) (domain.TransactionRecord, bool) {
	if rec, ok := l.t.records[id]; ok {
		return rec, true
	}
	l.t.s.mu.RLock()
	defer l.t.s.mu.RUnlock()
	stored, ok := l.t.s.records[id]
	return stored.rec, ok
}

func (l ledgerView) stage(rec domain.TransactionRecord) {
	if _, ok := l.t.records[rec.ID]; !ok {
		l.t.recordOrder = append(l.t.recordOrder, rec.ID)
	}
	l.t.records[rec.ID] = rec
}

func (l ledgerView) AppendRecord(_ context.Context, rec *domain.TransactionRecord) error {
	if _, ok := l.record(rec.ID); ok {
		return fmt.Errorf("transaction %s already exists", rec.ID)
	}
	rec.Status = domain.TransactionStatusPending
	l.stage(*rec)
	return nil
}

func (l ledgerView) MarkStatus(_ context.Context, id string, status domain.TransactionStatus) error {
	rec, ok := l.record(id)
	if !ok {
		return domain.NewError(domain.KindRecordNotFound, fmt.Sprintf("transaction %s not found", id), nil)
	}
	if rec.Status != domain.TransactionStatusPending || !status.Terminal() {
		return domain.NewError(domain.KindInvalidStatusTransition,
			fmt.Sprintf("cannot move transaction %s from %s to %s", id, rec.Status, status), nil)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	l.stage(rec)
	return nil
}

func (l ledgerView) GetRecord(_ context.Context, id string) (*domain.TransactionRecord, error) {
	rec, ok := l.record(id)
	if !ok {
		return nil, domain.NewError(domain.KindRecordNotFound, fmt.Sprintf("transaction %s not found", id), nil)
	}
	return &rec, nil
}

func (l ledgerView) ListForAccount(_ context.Context, accountID string) ([]domain.TransactionRecord, error) {
	l.t.s.mu.RLock()
	merged := make(map[string]storedRecord, len(l.t.s.records))
	for id, stored := range l.t.s.records {
		if stored.rec.Involves(accountID) {
			merged[id] = stored
		}
	}
	next := l.t.s.seq
	l.t.s.mu.RUnlock()

	for _, id := range l.t.recordOrder {
		rec := l.t.records[id]
		if !rec.Involves(accountID) {
			continue
		}
		if stored, ok := merged[id]; ok {
			stored.rec = rec
			merged[id] = stored
			continue
		}
		next++
		merged[id] = storedRecord{rec: rec, seq: next}
	}

	list := make([]storedRecord, 0, len(merged))
	for _, stored := range merged {
		if stored.rec.Status.Terminal() {
			list = append(list, stored)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].rec.CreatedAt.Equal(list[j].rec.CreatedAt) {
			return list[i].rec.CreatedAt.After(list[j].rec.CreatedAt)
		}
		return list[i].seq > list[j].seq
	})

	records := make([]domain.TransactionRecord, len(list))
	for i, stored := range list {
		records[i] = stored.rec
	}
	return records, nil
}
