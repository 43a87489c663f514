package domain

import "time"

type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindTransfer   TransactionKind = "transfer"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case TransactionKindDeposit, TransactionKindWithdrawal, TransactionKindTransfer:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Direction is the side an account takes in a record.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// TransactionRecord is one ledger entry. An empty SourceAccountID or
// DestinationAccountID means the side is absent (deposits have no source,
// withdrawals no destination).
type TransactionRecord struct {
	ID                   string
	Kind                 TransactionKind
	SourceAccountID      string
	DestinationAccountID string
	Amount               int64
	Description          string
	Status               TransactionStatus
	IdempotencyKey       string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (r *TransactionRecord) Involves(accountID string) bool {
	return accountID != "" && (r.SourceAccountID == accountID || r.DestinationAccountID == accountID)
}

// DirectionFor returns how the record looks from accountID's point of view.
// Money leaving the account is sent, money arriving is received.
func (r *TransactionRecord) DirectionFor(accountID string) Direction {
	if r.SourceAccountID == accountID {
		return DirectionSent
	}
	return DirectionReceived
}

// AccountIDs returns the accounts whose balance the record moves.
func (r *TransactionRecord) AccountIDs() []string {
	ids := make([]string, 0, 2)
	if r.SourceAccountID != "" {
		ids = append(ids, r.SourceAccountID)
	}
	if r.DestinationAccountID != "" {
		ids = append(ids, r.DestinationAccountID)
	}
	return ids
}
