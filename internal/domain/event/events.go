package event

import "time"

const TransactionCompletedType = "transaction.completed"

// TransactionCompletedEvent is published through the outbox once a ledger
// record reaches completed.
type TransactionCompletedEvent struct {
	EventID              string    `json:"event_id"`
	TransactionID        string    `json:"transaction_id"`
	Kind                 string    `json:"kind"`
	SourceAccountID      string    `json:"source_account_id,omitempty"`
	DestinationAccountID string    `json:"destination_account_id,omitempty"`
	Amount               int64     `json:"amount"`
	Description          string    `json:"description,omitempty"`
	Status               string    `json:"status"`
	Timestamp            time.Time `json:"timestamp"`
}

// TransferCommand is consumed from Kafka and executed by the engine. CommandID
// doubles as the idempotency key.
type TransferCommand struct {
	CommandID            string `json:"command_id"`
	Kind                 string `json:"kind"`
	SourceAccountID      string `json:"source_account_id,omitempty"`
	DestinationAccountID string `json:"destination_account_id,omitempty"`
	Amount               int64  `json:"amount"`
	Description          string `json:"description,omitempty"`
}
