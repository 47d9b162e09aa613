package service

import (
	"context"
	"time"

	"github.com/Abidoyesimze/StackPay/chain"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/metrics"
	"github.com/Abidoyesimze/StackPay/lib/webhook"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

type CreateInvoiceParams struct {
	// generated when empty
	ID             string
	MerchantID     string
	PaymentAddress string
	AmountBase     int64
	AmountQuote    int64
	Currency       string
	Description    string
	Metadata       map[string]interface{}
	ExpiresIn      time.Duration
}

// InvoiceStore is the durable home of invoices. Status writes are
// conditional so that a status is never re-entered or moved backwards.
type InvoiceStore interface {
	Create(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error)
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	ListNonTerminal(ctx context.Context) ([]models.Invoice, error)
	// SetStatus reports whether the row changed. Repeating the current
	// status is a no-op.
	SetStatus(ctx context.Context, id, status, txRef string) (bool, error)
	SetConfirmations(ctx context.Context, id string, count int64) error
	ExpireStale(ctx context.Context) (int, error)
}

type MerchantStore interface {
	FindByID(ctx context.Context, id string) (*models.Merchant, error)
}

// Locker grants short-lived exclusion per invoice. There is no release:
// a claim lapses when its ttl runs out.
type Locker interface {
	TryAcquire(ctx context.Context, invoiceID string, ttl time.Duration) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, merchantID string, payload webhook.Payload) error
}

type Quoter interface {
	BTCUSD(ctx context.Context) (decimal.Decimal, error)
}

type StackPayService struct {
	Config    *Config
	Invoices  InvoiceStore
	Merchants MerchantStore
	Chain     chain.Observer
	Addresses chain.AddressAllocator
	Locker    Locker
	Notifier  Notifier
	Quotes    Quoter
	Metrics   *metrics.Collectors
	Logger    *lecho.Logger
	// overridable in tests
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

func (svc *StackPayService) now() time.Time {
	if svc.Now != nil {
		return svc.Now()
	}
	return time.Now()
}
