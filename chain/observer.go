package chain

import (
	"context"
)

// IncomingPayment is the result of scanning an address for a transfer.
type IncomingPayment struct {
	Found  bool
	TxRef  string
	Amount int64
}

// TxStatus describes how deep a transaction is buried.
type TxStatus struct {
	Confirmations int64
	// ledger specific status string, e.g. "success" or "mempool"
	Raw string
}

// Observer queries an external ledger. Amounts are base-asset minor units.
type Observer interface {
	FindIncomingPayment(ctx context.Context, address string, expectedAmount int64) (IncomingPayment, error)
	GetConfirmationDepth(ctx context.Context, txRef string) (TxStatus, error)
	ReleaseFunds(ctx context.Context, invoiceID, destination string, amount int64) (string, error)
}

// AddressAllocator hands out the settlement address for a new invoice.
type AddressAllocator interface {
	NewAddress(ctx context.Context, invoiceID string) (string, error)
}

// Depth returns tip - inclusion + 1, or 0 when either height is unknown.
func Depth(tipHeight, inclusionHeight int64) int64 {
	if tipHeight <= 0 || inclusionHeight <= 0 {
		return 0
	}
	d := tipHeight - inclusionHeight + 1
	if d < 0 {
		return 0
	}
	return d
}

func withinTolerance(amount, expected, tolerance int64) bool {
	diff := amount - expected
	if diff < 0 {
		diff = -diff
	}
	return diff < tolerance
}
