package chain

import (
	"errors"
	"fmt"
)

var ErrReleaseUnsupported = errors.New("fund release is not supported by this backend")

// TransientError marks a failed or timed out ledger query. The invoice is
// left untouched and revisited on the next round.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// BroadcastError is returned when the ledger rejects a release.
type BroadcastError struct {
	InvoiceID string
	Err       error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast for invoice %s rejected: %v", e.InvoiceID, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
