package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")

	satsPerBTC  = decimal.NewFromInt(common.SatsPerBTC)
	centsPerUSD = decimal.NewFromInt(common.CentsPerUSD)

	validate = validator.New()
)

type CreateInvoiceRequest struct {
	MerchantID  string                 `validate:"required"`
	Amount      decimal.Decimal        `validate:"-"`
	Currency    string                 `validate:"required,oneof=BTC USD"`
	Description string                 `validate:"max=500"`
	Metadata    map[string]interface{} `validate:"-"`
}

// QuoteAmounts converts the requested amount into satoshis and cents at the
// given BTC/USD rate. Both results are rounded half away from zero.
func QuoteAmounts(amount decimal.Decimal, currency string, btcUSD decimal.Decimal) (base int64, quote int64, err error) {
	if !amount.IsPositive() {
		return 0, 0, ErrInvalidAmount
	}
	if !btcUSD.IsPositive() {
		return 0, 0, fmt.Errorf("invalid BTC/USD rate %s", btcUSD)
	}

	var btc, usd decimal.Decimal
	switch currency {
	case common.CurrencyBTC:
		btc = amount
		usd = amount.Mul(btcUSD)
	case common.CurrencyUSD:
		usd = amount
		btc = amount.Div(btcUSD)
	default:
		return 0, 0, fmt.Errorf("unsupported currency %q", currency)
	}

	base = btc.Mul(satsPerBTC).Round(0).IntPart()
	quote = usd.Mul(centsPerUSD).Round(0).IntPart()
	if base <= 0 {
		return 0, 0, fmt.Errorf("%w: %s %s is below one satoshi", ErrInvalidAmount, amount, currency)
	}
	return base, quote, nil
}

// CreateInvoice quotes, allocates a settlement address and stores a new
// pending invoice.
func (svc *StackPayService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*models.Invoice, error) {
	if err := validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("invalid invoice request: %w", err)
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	merchant, err := svc.Merchants.FindByID(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	rate, err := svc.Quotes.BTCUSD(ctx)
	if err != nil {
		return nil, err
	}
	base, quote, err := QuoteAmounts(req.Amount, req.Currency, rate)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	address, err := svc.Addresses.NewAddress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("allocating address for invoice %s: %w", id, err)
	}

	invoice, err := svc.Invoices.Create(ctx, CreateInvoiceParams{
		ID:             id,
		MerchantID:     merchant.ID,
		PaymentAddress: address,
		AmountBase:     base,
		AmountQuote:    quote,
		Currency:       req.Currency,
		Description:    req.Description,
		Metadata:       req.Metadata,
		ExpiresIn:      svc.Config.InvoiceExpiry(),
	})
	if err != nil {
		return nil, &PersistenceError{Op: "create", InvoiceID: id, Err: err}
	}
	svc.Logger.Infof("Created invoice %s for merchant %s: %d sat / %d cents at %s", invoice.ID, merchant.ID, base, quote, rate)
	return invoice, nil
}
