package ledger_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet/internal/domain"
	"wallet/internal/repository/pgerr"
)

const recordColumns = `id, kind, source_account_id, destination_account_id, amount, description, status, idempotency_key, created_at, updated_at`

type ledgerRepository struct{}

func NewLedgerRepository() *ledgerRepository {
	return &ledgerRepository{}
}

// AppendRecordTx always stores the record as pending, whatever rec.Status says.
func (r *ledgerRepository) AppendRecordTx(ctx context.Context, querier domain.Querier, rec *domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	rec.Status = domain.TransactionStatusPending
	_, err := querier.ExecContext(ctx, query,
		rec.ID,
		rec.Kind,
		nullString(rec.SourceAccountID),
		nullString(rec.DestinationAccountID),
		rec.Amount,
		rec.Description,
		rec.Status,
		nullString(rec.IdempotencyKey),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return pgerr.Classify(err, fmt.Sprintf("failed to append transaction %s", rec.ID))
	}
	return nil
}

func (r *ledgerRepository) MarkStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.TransactionStatus) error {
	if !status.Terminal() {
		return domain.NewError(domain.KindInvalidStatusTransition,
			fmt.Sprintf("cannot move transaction %s to %s", id, status), nil)
	}

	query := `
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	res, err := querier.ExecContext(ctx, query, string(status), time.Now().UTC(), id, string(domain.TransactionStatusPending))
	if err != nil {
		return pgerr.Classify(err, fmt.Sprintf("failed to update transaction status %s", id))
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return pgerr.Classify(err, "failed to get rows affected for transaction status update")
	}
	if rowsAffected == 1 {
		return nil
	}

	existing, err := r.GetRecordTx(ctx, querier, id)
	if err != nil {
		return err
	}
	return domain.NewError(domain.KindInvalidStatusTransition,
		fmt.Sprintf("transaction %s is already %s", id, existing.Status), nil)
}

func (r *ledgerRepository) GetRecordTx(ctx context.Context, querier domain.Querier, id string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE id = $1`
	rec, err := scanRecord(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewError(domain.KindRecordNotFound, fmt.Sprintf("transaction %s not found", id), nil)
		}
		return nil, pgerr.Classify(err, fmt.Sprintf("failed to get transaction %s", id))
	}
	return rec, nil
}

// ListForAccountTx runs as one statement, so the result is a consistent
// snapshot even outside an explicit transaction. Pending records are left out
// because their balance change has not committed.
func (r *ledgerRepository) ListForAccountTx(ctx context.Context, querier domain.Querier, accountID string) ([]domain.TransactionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM transactions
		WHERE (source_account_id = $1 OR destination_account_id = $1)
		  AND status <> 'pending'
		ORDER BY created_at DESC, id DESC
	`
	rows, err := querier.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, pgerr.Classify(err, fmt.Sprintf("failed to list transactions for account %s", accountID))
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pgerr.Classify(err, "failed to scan transaction")
		}
		records = append(records, *rec)
	}
	if err = rows.Err(); err != nil {
		return nil, pgerr.Classify(err, "error iterating transactions")
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.TransactionRecord, error) {
	rec := &domain.TransactionRecord{}
	var source, destination, key sql.NullString
	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&source,
		&destination,
		&rec.Amount,
		&rec.Description,
		&rec.Status,
		&key,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.SourceAccountID = source.String
	rec.DestinationAccountID = destination.String
	rec.IdempotencyKey = key.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
