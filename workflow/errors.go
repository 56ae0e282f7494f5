package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification the API layer branches on.
// Validation kinds are caller-correctable and never retried; ConcurrencyConflict
// is retried internally a bounded number of times before surfacing;
// StorageUnavailable is an infrastructure failure (reads may be retried per
// policy, mutations never).
type ErrorKind string

const (
	KindInvalidAmount           ErrorKind = "InvalidAmount"
	KindOverAllocation          ErrorKind = "OverAllocation"
	KindDuplicateReconciliation ErrorKind = "DuplicateReconciliation"
	KindReconciliationNotFound  ErrorKind = "ReconciliationNotFound"
	KindDayClosed               ErrorKind = "DayClosed"
	KindOverpaymentRejected     ErrorKind = "OverpaymentRejected"
	KindDuplicateCommand        ErrorKind = "DuplicateCommand"
	KindConcurrencyConflict     ErrorKind = "ConcurrencyConflict"
	KindStorageUnavailable      ErrorKind = "StorageUnavailable"
)

type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches two DomainErrors by kind, so errors.Is(err, ErrOverAllocation)
// works no matter which message the failing call attached.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func NewDomainError(kind ErrorKind, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidAmount           = &DomainError{Kind: KindInvalidAmount, Message: "amount must be positive"}
	ErrOverAllocation          = &DomainError{Kind: KindOverAllocation, Message: "sold weight exceeds loaded weight"}
	ErrDuplicateReconciliation = &DomainError{Kind: KindDuplicateReconciliation, Message: "reconciliation already exists for truck and date"}
	ErrReconciliationNotFound  = &DomainError{Kind: KindReconciliationNotFound, Message: "no reconciliation opened for truck and date"}
	ErrDayClosed               = &DomainError{Kind: KindDayClosed, Message: "reconciliation day is closed"}
	ErrOverpaymentRejected     = &DomainError{Kind: KindOverpaymentRejected, Message: "payment exceeds outstanding balance"}
	ErrDuplicateCommand        = &DomainError{Kind: KindDuplicateCommand, Message: "command already processed"}
	ErrConcurrencyConflict     = &DomainError{Kind: KindConcurrencyConflict, Message: "concurrent update conflict"}
	ErrStorageUnavailable      = &DomainError{Kind: KindStorageUnavailable, Message: "storage unavailable"}
)

// KindOf returns the kind of a domain error, or "" for everything else.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsValidationError reports whether the caller can correct and re-submit.
func IsValidationError(err error) bool {
	switch KindOf(err) {
	case KindInvalidAmount, KindOverAllocation, KindDuplicateReconciliation,
		KindReconciliationNotFound, KindDayClosed, KindOverpaymentRejected,
		KindDuplicateCommand:
		return true
	}
	return false
}

// wrapStorage classifies unexpected persistence failures. Domain errors pass
// through untouched so their kind survives the transaction boundary.
func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return &DomainError{Kind: KindStorageUnavailable, Message: "storage unavailable", Err: err}
}
