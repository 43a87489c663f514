package transfer

import "time"

const (
	DefaultDepositDescription    = "Wallet deposit"
	DefaultWithdrawalDescription = "Wallet withdrawal"
	DefaultTransferDescription   = "Money transfer"
)

type Config struct {
	// MinAmount is the smallest accepted amount in minor units.
	MinAmount int64
	// OperationTimeout bounds one call, including waiting for the guard.
	OperationTimeout time.Duration
	// MaxRetries is how many times a StoreUnavailable failure is retried.
	MaxRetries     int
	RetryBaseDelay time.Duration
	// EventsTopic enables transaction.completed outbox events when non-empty.
	EventsTopic string
}

func DefaultConfig() Config {
	return Config{
		MinAmount:        1,
		OperationTimeout: 5 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   50 * time.Millisecond,
	}
}

type operationOptions struct {
	idempotencyKey string
	description    string
}

// Option customizes a single Deposit, Withdraw or Transfer call.
type Option func(*operationOptions)

// WithIdempotencyKey makes the call safe to retry. A replay with the same key
// and payload returns the original record.
func WithIdempotencyKey(key string) Option {
	return func(o *operationOptions) {
		o.idempotencyKey = key
	}
}

func WithDescription(description string) Option {
	return func(o *operationOptions) {
		o.description = description
	}
}
