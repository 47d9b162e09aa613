package common

const (
	InvoiceStatusPending    = "pending"
	InvoiceStatusConfirming = "confirming"
	InvoiceStatusConfirmed  = "confirmed"
	InvoiceStatusExpired    = "expired"
	InvoiceStatusFailed     = "failed"

	CurrencyBTC = "BTC"
	CurrencyUSD = "USD"

	EventPaymentReceived     = "payment.received"
	EventPaymentConfirmed    = "payment.confirmed"
	EventConversionCompleted = "conversion.completed"

	WebhookEventHeader     = "X-StacksPay-Event"
	WebhookSignatureHeader = "X-StacksPay-Signature"

	LockKeyPrefix = "lock:invoice:"

	SatsPerBTC  = 100_000_000
	CentsPerUSD = 100
)

// IsTerminal reports whether no further lifecycle transition may leave status.
func IsTerminal(status string) bool {
	switch status {
	case InvoiceStatusConfirmed, InvoiceStatusExpired, InvoiceStatusFailed:
		return true
	}
	return false
}

// forward lists, per target status, the statuses it may be entered from.
var forward = map[string][]string{
	InvoiceStatusConfirming: {InvoiceStatusPending},
	InvoiceStatusConfirmed:  {InvoiceStatusConfirming},
	InvoiceStatusExpired:    {InvoiceStatusPending},
	InvoiceStatusFailed:     {InvoiceStatusPending, InvoiceStatusConfirming},
}

// AllowedPredecessors returns the statuses an invoice must currently be in to
// move into target. Unknown targets return nil.
func AllowedPredecessors(target string) []string {
	return forward[target]
}

// CanTransition reports whether from -> to is a forward lifecycle step.
func CanTransition(from, to string) bool {
	for _, s := range forward[to] {
		if s == from {
			return true
		}
	}
	return false
}
