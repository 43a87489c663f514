// Package pgerr maps lib/pq driver failures onto domain error kinds.
package pgerr

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"

	"wallet/internal/domain"
)

const (
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeForeignKeyViolation  = "23503"
	CodeNumericOutOfRange    = "22003"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeAdminShutdown        = "57P01"
)

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	return hasCode(err, CodeUniqueViolation)
}

// Classify wraps err in a domain error. Context errors and already typed
// domain errors pass through untouched so callers can still tell them apart.
func Classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return domain.NewError(domain.KindStoreUnavailable, msg, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewError(domain.KindStoreUnavailable, msg, err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return domain.NewError(domain.KindInternal, msg, err)
	}

	code := string(pqErr.Code)
	switch {
	case code == CodeCheckViolation && strings.Contains(pqErr.Constraint, "amount"):
		return domain.NewError(domain.KindInvalidAmount, domain.ErrInvalidAmount.Message, err)
	case code == CodeCheckViolation && strings.Contains(pqErr.Constraint, "balance"):
		return domain.NewError(domain.KindInsufficientFunds, domain.ErrInsufficientFunds.Message, err)
	case code == CodeNumericOutOfRange:
		return domain.NewError(domain.KindInvalidAmount, "amount out of range", err)
	case code == CodeForeignKeyViolation:
		return domain.NewError(domain.KindAccountNotFound, domain.ErrAccountNotFound.Message, err)
	case code == CodeSerializationFailure, code == CodeDeadlockDetected, code == CodeAdminShutdown,
		strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"):
		return domain.NewError(domain.KindStoreUnavailable, msg, err)
	}
	return domain.NewError(domain.KindInternal, msg, err)
}

func hasCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}
