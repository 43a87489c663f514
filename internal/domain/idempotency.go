package domain

import "time"

// IdempotencyEntry binds a caller-supplied key to the record it produced.
// Fingerprint identifies the request payload so that a reused key with a
// different payload can be told apart from a genuine retry.
type IdempotencyEntry struct {
	Key           string
	Fingerprint   string
	TransactionID string
	CreatedAt     time.Time
}
