// Package transfer is the balance-transfer engine. Every deposit, withdrawal
// and transfer is one atomic unit over the account balances and the ledger.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"wallet/internal/domain"
	"wallet/internal/domain/event"
	"wallet/internal/guard"
	"wallet/internal/util"
)

const (
	abandonTimeout   = 5 * time.Second
	maxRetryInterval = 2 * time.Second
)

type Service interface {
	OpenAccount(ctx context.Context, initialBalance int64, aliases ...string) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	Deposit(ctx context.Context, accountID string, amount int64, opts ...Option) (*domain.TransactionRecord, error)
	Withdraw(ctx context.Context, accountID string, amount int64, opts ...Option) (*domain.TransactionRecord, error)
	Transfer(ctx context.Context, sourceID, destinationID string, amount int64, description string, opts ...Option) (*domain.TransactionRecord, error)
	ListTransactions(ctx context.Context, accountID string) (iter.Seq[domain.TransactionRecord], error)
}

type Engine struct {
	store  domain.Store
	guard  guard.Guard
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(store domain.Store, g guard.Guard, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MinAmount < 1 {
		cfg.MinAmount = 1
	}
	return &Engine{
		store:  store,
		guard:  g,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

type request struct {
	kind        domain.TransactionKind
	source      string
	destination string
	amount      int64
	description string
	key         string
}

func (r request) fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(r.kind), r.source, r.destination, strconv.FormatInt(r.amount, 10), r.description,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func (r request) delta(accountID string) int64 {
	if accountID == r.source {
		return -r.amount
	}
	return r.amount
}

func (e *Engine) Deposit(ctx context.Context, accountID string, amount int64, opts ...Option) (*domain.TransactionRecord, error) {
	return e.execute(ctx, newRequest(domain.TransactionKindDeposit, "", accountID, amount, DefaultDepositDescription, opts))
}

func (e *Engine) Withdraw(ctx context.Context, accountID string, amount int64, opts ...Option) (*domain.TransactionRecord, error) {
	return e.execute(ctx, newRequest(domain.TransactionKindWithdrawal, accountID, "", amount, DefaultWithdrawalDescription, opts))
}

// Transfer moves amount from sourceID to destinationID. An empty description
// falls back to WithDescription, then to the default text.
func (e *Engine) Transfer(ctx context.Context, sourceID, destinationID string, amount int64, description string, opts ...Option) (*domain.TransactionRecord, error) {
	req := newRequest(domain.TransactionKindTransfer, sourceID, destinationID, amount, DefaultTransferDescription, opts)
	if description != "" {
		req.description = description
	}
	return e.execute(ctx, req)
}

func newRequest(kind domain.TransactionKind, source, destination string, amount int64, defaultDescription string, opts []Option) request {
	o := operationOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	description := o.description
	if description == "" {
		description = defaultDescription
	}
	return request{
		kind:        kind,
		source:      source,
		destination: destination,
		amount:      amount,
		description: description,
		key:         o.idempotencyKey,
	}
}

func (e *Engine) validate(req request) error {
	if req.amount < e.cfg.MinAmount {
		return domain.NewError(domain.KindInvalidAmount,
			fmt.Sprintf("amount must be at least %d", e.cfg.MinAmount), nil)
	}
	switch req.kind {
	case domain.TransactionKindDeposit:
		if req.destination == "" {
			return domain.ErrAccountNotFound
		}
	case domain.TransactionKindWithdrawal:
		if req.source == "" {
			return domain.ErrAccountNotFound
		}
	case domain.TransactionKindTransfer:
		if req.source == "" || req.destination == "" {
			return domain.ErrAccountNotFound
		}
		if req.source == req.destination {
			return domain.ErrSelfTransfer
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, req request) (*domain.TransactionRecord, error) {
	logger := e.logger.With(
		zap.String("kind", string(req.kind)),
		zap.String("source_account_id", req.source),
		zap.String("destination_account_id", req.destination),
		zap.Int64("amount", req.amount),
	)
	if err := e.validate(req); err != nil {
		logger.Warn("Rejected invalid operation", zap.Error(err))
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ticket, err := e.guard.Begin(ctx, req.key, req.source, req.destination)
	if err != nil {
		logger.Warn("Could not acquire accounts", zap.Error(err))
		return nil, toDomainError(err)
	}
	defer func() {
		if relErr := ticket.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Error("Failed to release guard ticket", zap.Error(relErr))
		}
	}()

	var rec *domain.TransactionRecord
	err = e.retry(ctx, logger, func(ctx context.Context) (bool, error) {
		attempted, retryable, attemptErr := e.attempt(ctx, req, logger)
		rec = attempted
		return retryable, attemptErr
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Transaction completed", zap.String("transaction_id", rec.ID))
	return rec, nil
}

// attempt runs one prepare/commit cycle. The bool result tells whether the
// failure left no trace and may be retried.
func (e *Engine) attempt(ctx context.Context, req request, logger *zap.Logger) (*domain.TransactionRecord, bool, error) {
	now := e.now()
	rec := &domain.TransactionRecord{
		ID:                   util.GenerateOrderedID(),
		Kind:                 req.kind,
		SourceAccountID:      req.source,
		DestinationAccountID: req.destination,
		Amount:               req.amount,
		Description:          req.description,
		Status:               domain.TransactionStatusPending,
		IdempotencyKey:       req.key,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	replay, err := e.prepare(ctx, req, rec)
	if err != nil {
		if isBusinessError(err) {
			return nil, false, err
		}
		// The prepare commit may have landed even though it reported an error.
		if _, abandonErr := e.abandon(rec, logger); abandonErr != nil {
			return nil, false, err
		}
		return nil, true, err
	}
	if replay != nil {
		logger.Info("Replayed idempotent operation",
			zap.String("idempotency_key", req.key),
			zap.String("transaction_id", replay.ID))
		return replay, false, nil
	}

	err = e.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		return e.commitTx(ctx, uow, req, rec)
	})
	if err == nil {
		rec.Status = domain.TransactionStatusCompleted
		return rec, false, nil
	}

	logger.Warn("Commit failed, abandoning pending record", zap.String("transaction_id", rec.ID), zap.Error(err))
	landed, abandonErr := e.abandon(rec, logger)
	if abandonErr != nil {
		return nil, false, err
	}
	if landed {
		rec.Status = domain.TransactionStatusCompleted
		return rec, false, nil
	}
	return nil, true, err
}

func (e *Engine) prepare(ctx context.Context, req request, rec *domain.TransactionRecord) (*domain.TransactionRecord, error) {
	var replay *domain.TransactionRecord
	fingerprint := req.fingerprint()

	err := e.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
		if req.key != "" {
			original, err := e.lookupReplay(ctx, uow, req.key, fingerprint)
			if err != nil {
				return err
			}
			if original != nil {
				replay = original
				return nil
			}
		}

		for _, id := range rec.AccountIDs() {
			acc, err := uow.Accounts().GetAccount(ctx, id)
			if err != nil {
				return err
			}
			if id == req.source && acc.Balance < req.amount {
				return domain.NewError(domain.KindInsufficientFunds,
					fmt.Sprintf("insufficient funds on account %s", id), nil)
			}
		}

		if err := uow.Ledger().AppendRecord(ctx, rec); err != nil {
			return fmt.Errorf("failed to append pending record: %w", err)
		}
		if req.key == "" {
			return nil
		}
		err := uow.Idempotency().ReserveKey(ctx, &domain.IdempotencyEntry{
			Key:           req.key,
			Fingerprint:   fingerprint,
			TransactionID: rec.ID,
			CreatedAt:     rec.CreatedAt,
		})
		if errors.Is(err, domain.ErrConflict) {
			return domain.NewError(domain.KindBusy, "operation with this idempotency key is in progress", err)
		}
		return err
	})
	return replay, err
}

func (e *Engine) lookupReplay(ctx context.Context, uow domain.UnitOfWork, key, fingerprint string) (*domain.TransactionRecord, error) {
	entry, err := uow.Idempotency().GetKey(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.Fingerprint != fingerprint {
		return nil, domain.NewError(domain.KindConflict,
			fmt.Sprintf("idempotency key %s was used with a different request", key), nil)
	}

	original, err := uow.Ledger().GetRecord(ctx, entry.TransactionID)
	if err != nil {
		return nil, err
	}
	switch original.Status {
	case domain.TransactionStatusCompleted:
		return original, nil
	case domain.TransactionStatusPending:
		// The caller holds the guard for key, so whoever wrote this record is
		// gone and its cleanup never landed. Nothing moved balances for it.
		if err := uow.Ledger().MarkStatus(ctx, original.ID, domain.TransactionStatusFailed); err != nil {
			return nil, err
		}
		return nil, uow.Idempotency().ReleaseKey(ctx, key)
	default:
		// A failed original never took effect, so the key is free again.
		return nil, uow.Idempotency().ReleaseKey(ctx, key)
	}
}

// commitTx applies the deltas in ascending account order, which matches the
// row lock order of every other commit.
func (e *Engine) commitTx(ctx context.Context, uow domain.UnitOfWork, req request, rec *domain.TransactionRecord) error {
	for _, id := range guard.SortedUnique(rec.AccountIDs()) {
		if _, err := uow.Accounts().AdjustBalance(ctx, id, req.delta(id)); err != nil {
			return err
		}
	}
	if err := uow.Ledger().MarkStatus(ctx, rec.ID, domain.TransactionStatusCompleted); err != nil {
		return err
	}
	if e.cfg.EventsTopic == "" {
		return nil
	}

	msg, err := e.completedEvent(rec)
	if err != nil {
		return err
	}
	return uow.Outbox().CreateMessage(ctx, msg)
}

// abandon flips a pending record to failed and frees its idempotency key. It
// runs detached from the caller so a cancelled request still gets cleaned up.
// landed is true when the record turns out to be completed, meaning a commit
// reported as failed actually went through.
func (e *Engine) abandon(rec *domain.TransactionRecord, logger *zap.Logger) (landed bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
	defer cancel()

	err = e.retry(ctx, logger, func(ctx context.Context) (bool, error) {
		landed = false
		err := e.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
			err := uow.Ledger().MarkStatus(ctx, rec.ID, domain.TransactionStatusFailed)
			switch {
			case errors.Is(err, domain.ErrRecordNotFound):
				return nil
			case errors.Is(err, domain.ErrInvalidStatusTransition):
				current, getErr := uow.Ledger().GetRecord(ctx, rec.ID)
				if getErr != nil {
					return getErr
				}
				landed = current.Status == domain.TransactionStatusCompleted
				return nil
			case err != nil:
				return err
			}

			if rec.IdempotencyKey == "" {
				return nil
			}
			entry, err := uow.Idempotency().GetKey(ctx, rec.IdempotencyKey)
			if err != nil {
				return err
			}
			if entry != nil && entry.TransactionID == rec.ID {
				return uow.Idempotency().ReleaseKey(ctx, rec.IdempotencyKey)
			}
			return nil
		})
		return true, err
	})
	if err != nil {
		logger.Error("Failed to abandon pending record", zap.String("transaction_id", rec.ID), zap.Error(err))
		return false, err
	}
	return landed, nil
}

// retry runs fn until it succeeds, fails for a reason other than
// StoreUnavailable, or the retry budget is spent. fn reports whether its
// failure left nothing behind and may be run again.
func (e *Engine) retry(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) (bool, error)) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryBaseDelay
	policy.MaxInterval = maxRetryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(func() error {
		retryable, err := fn(ctx)
		if err == nil {
			return nil
		}
		err = toDomainError(err)
		if !retryable || domain.KindOf(err) != domain.KindStoreUnavailable {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(e.cfg.MaxRetries, 0))), ctx),
		func(err error, delay time.Duration) {
			attempt++
			logger.Warn("Store unavailable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		})
	if err != nil {
		return toDomainError(err)
	}
	return nil
}

func (e *Engine) completedEvent(rec *domain.TransactionRecord) (*domain.OutboxMessage, error) {
	now := e.now()
	payload, err := json.Marshal(event.TransactionCompletedEvent{
		EventID:              util.GenerateUUID(),
		TransactionID:        rec.ID,
		Kind:                 string(rec.Kind),
		SourceAccountID:      rec.SourceAccountID,
		DestinationAccountID: rec.DestinationAccountID,
		Amount:               rec.Amount,
		Description:          rec.Description,
		Status:               string(domain.TransactionStatusCompleted),
		Timestamp:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction event: %w", err)
	}
	return &domain.OutboxMessage{
		ID:          util.GenerateUUID(),
		AggregateID: rec.ID,
		MessageType: event.TransactionCompletedType,
		Topic:       e.cfg.EventsTopic,
		Key:         rec.ID,
		Payload:     payload,
		Status:      domain.OutboxStatusPending,
		CreatedAt:   now,
	}, nil
}

// ListTransactions returns the account's history, most recent first. The
// sequence is a snapshot taken now and may be iterated any number of times.
func (e *Engine) ListTransactions(ctx context.Context, accountID string) (iter.Seq[domain.TransactionRecord], error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var snapshot []domain.TransactionRecord
	err := e.retry(ctx, e.logger, func(ctx context.Context) (bool, error) {
		return true, e.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
			if _, err := uow.Accounts().GetAccount(ctx, accountID); err != nil {
				return err
			}
			records, err := uow.Ledger().ListForAccount(ctx, accountID)
			snapshot = records
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return func(yield func(domain.TransactionRecord) bool) {
		for _, rec := range snapshot {
			if !yield(rec) {
				return
			}
		}
	}, nil
}

// OpenAccount creates an account with its opening balance and optional
// external aliases. The opening balance is the account's initial balance for
// conservation purposes and produces no ledger record.
func (e *Engine) OpenAccount(ctx context.Context, initialBalance int64, aliases ...string) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.NewError(domain.KindInvalidAmount, "initial balance cannot be negative", nil)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	now := e.now()
	account := &domain.Account{
		ID:        util.GenerateOrderedID(),
		Balance:   initialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.retry(ctx, e.logger, func(ctx context.Context) (bool, error) {
		return true, e.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
			if err := uow.Accounts().CreateAccount(ctx, account); err != nil {
				return err
			}
			for _, alias := range aliases {
				if err := uow.Accounts().AddAlias(ctx, alias, account.ID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		e.logger.Warn("Failed to open account", zap.Strings("aliases", aliases), zap.Error(err))
		return nil, err
	}

	e.logger.Info("Account opened", zap.String("account_id", account.ID), zap.Int64("balance", initialBalance))
	return account, nil
}

func (e *Engine) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var account *domain.Account
	err := e.retry(ctx, e.logger, func(ctx context.Context) (bool, error) {
		return true, e.store.WithinTx(ctx, func(ctx context.Context, uow domain.UnitOfWork) error {
			var err error
			account, err = uow.Accounts().GetAccount(ctx, accountID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

// isBusinessError reports whether err is a deterministic rejection that left
// nothing behind in the store.
func isBusinessError(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindInvalidAmount, domain.KindInsufficientFunds, domain.KindAccountNotFound,
		domain.KindSelfTransfer, domain.KindBusy, domain.KindConflict:
		return true
	}
	return false
}

// toDomainError turns any untyped failure into a domain error.
func toDomainError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewError(domain.KindTimeout, domain.ErrTimeout.Message, err)
	case errors.Is(err, context.Canceled):
		return domain.NewError(domain.KindCanceled, domain.ErrCanceled.Message, err)
	}
	return domain.NewError(domain.KindInternal, "internal error", err)
}
