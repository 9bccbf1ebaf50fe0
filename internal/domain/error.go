package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrPaymentNotPending  = errors.New("payment is not pending")
	ErrInsufficientFunds  = errors.New("insufficient site money")
	ErrRateLimited        = errors.New("too many requests")
	ErrMethodNotSupported = errors.New("payment method not supported")
)

// ValidationError rejects construction input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// UnsupportedMethodError is returned when a payment method id is not registered.
// Callers at the HTTP boundary map it to 404.
type UnsupportedMethodError struct {
	MethodID string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("payment method %q is not supported", e.MethodID)
}

func (e *UnsupportedMethodError) Is(target error) bool {
	return target == ErrNotFound || target == ErrMethodNotSupported
}

// DeliveryError reports a failed buyable delivery for one cart line.
// The purchase item record is kept; delivery can be retried later.
type DeliveryError struct {
	Line    int // 1-based cart position, 0 for a standalone redelivery
	ItemID  string
	Buyable string
	Err     error
}

func (e *DeliveryError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("deliver line %d (%s, item %s): %v", e.Line, e.Buyable, e.ItemID, e.Err)
	}
	return fmt.Sprintf("deliver item %s (%s): %v", e.ItemID, e.Buyable, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RevocationError reports a failed buyable-side expire call. The item keeps its
// expiration so the next sweep picks it up again.
type RevocationError struct {
	ItemID  string
	Trigger string
	Err     error
}

func (e *RevocationError) Error() string {
	return fmt.Sprintf("revoke item %s (trigger=%s): %v", e.ItemID, e.Trigger, e.Err)
}

func (e *RevocationError) Unwrap() error { return e.Err }
