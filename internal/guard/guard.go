// Package guard serializes mutating operations per account and rejects
// duplicate in-flight idempotency keys.
//
// Accounts are always acquired in ascending id order, so two operations that
// touch the same pair in opposite directions cannot deadlock.
package guard

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"wallet/internal/domain"
)

type Mode string

const (
	// ModeBlock waits for busy accounts until the context ends.
	ModeBlock Mode = "block"
	// ModeReject fails with Busy as soon as an account is held.
	ModeReject Mode = "reject"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBlock, ModeReject:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown guard mode %q", s)
}

// Ticket is held for the duration of one operation. Release is idempotent.
type Ticket interface {
	Release(ctx context.Context) error
}

type Guard interface {
	// Begin reserves key (when non-empty) and every account in accountIDs.
	// Nothing stays held when it returns an error.
	Begin(ctx context.Context, key string, accountIDs ...string) (Ticket, error)
}

// SortedUnique returns the ids in acquisition order with duplicates and
// empty ids removed.
func SortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func waitError(err error, accountID string) error {
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindCanceled, "operation canceled while waiting for account "+accountID, err)
	}
	return domain.NewError(domain.KindTimeout, "timed out waiting for account "+accountID, err)
}

func busyError(accountID string) error {
	return domain.NewError(domain.KindBusy, fmt.Sprintf("account %s is busy with another operation", accountID), nil)
}

// keyInFlightError is Busy, not Conflict: the same request may be retried
// once the first attempt finishes.
func keyInFlightError(key string) error {
	return domain.NewError(domain.KindBusy, fmt.Sprintf("operation with idempotency key %s is already in flight", key), nil)
}
