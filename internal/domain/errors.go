package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable identifier for a class of failure. Callers map it to
// transport status codes.
type ErrorKind string

const (
	KindInvalidAmount           ErrorKind = "INVALID_AMOUNT"
	KindInsufficientFunds       ErrorKind = "INSUFFICIENT_FUNDS"
	KindAccountNotFound         ErrorKind = "ACCOUNT_NOT_FOUND"
	KindAccountAlreadyExists    ErrorKind = "ACCOUNT_ALREADY_EXISTS"
	KindSelfTransfer            ErrorKind = "SELF_TRANSFER"
	KindBusy                    ErrorKind = "BUSY"
	KindConflict                ErrorKind = "CONFLICT"
	KindTimeout                 ErrorKind = "TIMEOUT"
	KindCanceled                ErrorKind = "CANCELED"
	KindStoreUnavailable        ErrorKind = "STORE_UNAVAILABLE"
	KindRecordNotFound          ErrorKind = "RECORD_NOT_FOUND"
	KindInvalidStatusTransition ErrorKind = "INVALID_STATUS_TRANSITION"
	KindInternal                ErrorKind = "INTERNAL"
)

// Error is a typed failure carrying a human-readable message. Two Errors match
// under errors.Is when their kinds are equal, so the sentinels below can be
// compared against errors built with NewError.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidAmount           = &Error{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrInsufficientFunds       = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAccountNotFound         = &Error{Kind: KindAccountNotFound, Message: "account not found"}
	ErrAccountAlreadyExists    = &Error{Kind: KindAccountAlreadyExists, Message: "account already exists"}
	ErrSelfTransfer            = &Error{Kind: KindSelfTransfer, Message: "cannot transfer money to the same account"}
	ErrBusy                    = &Error{Kind: KindBusy, Message: "account is busy with another operation"}
	ErrConflict                = &Error{Kind: KindConflict, Message: "idempotency key conflict"}
	ErrTimeout                 = &Error{Kind: KindTimeout, Message: "operation timed out"}
	ErrCanceled                = &Error{Kind: KindCanceled, Message: "operation canceled"}
	ErrStoreUnavailable        = &Error{Kind: KindStoreUnavailable, Message: "store unavailable"}
	ErrRecordNotFound          = &Error{Kind: KindRecordNotFound, Message: "transaction record not found"}
	ErrInvalidStatusTransition = &Error{Kind: KindInvalidStatusTransition, Message: "invalid transaction status transition"}
)

// NewError builds an Error of the given kind with a specific message and an
// optional cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf returns the kind of the first Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of the first Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
