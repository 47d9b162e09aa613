package service

import (
	"fmt"

	"github.com/Abidoyesimze/StackPay/common"
)

// ErrNotFound is surfaced to callers of lookups; it is never fatal to the
// reconciler.
var ErrNotFound = common.ErrNotFound

// PersistenceError wraps a failed store write. It is logged by the
// reconciler and never retried within the same round.
type PersistenceError struct {
	Op        string
	InvoiceID string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.InvoiceID == "" {
		return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence: %s invoice %s: %v", e.Op, e.InvoiceID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConversionError is the logged-only outcome of a failed escrow release.
type ConversionError struct {
	InvoiceID string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("auto-conversion for invoice %s failed: %v", e.InvoiceID, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// FatalConfigError stops the process at startup.
type FatalConfigError struct {
	Setting string
	Reason  string
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Setting, e.Reason)
}
