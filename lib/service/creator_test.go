package service

import (
	"context"
	"testing"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

func newCreatorService(now time.Time, quoter Quoter) (*StackPayService, *fakeInvoiceStore, *fakeChain) {
	clock := func() time.Time { return now }
	store := newFakeInvoiceStore(clock)
	chainFake := newFakeChain()
	svc := &StackPayService{
		Config:    &Config{InvoiceExpiryMinutes: 30},
		Invoices:  store,
		Merchants: fakeMerchants{"m-1": {ID: "m-1"}},
		Chain:     chainFake,
		Addresses: chainFake,
		Quotes:    quoter,
		Logger:    lecho.New(&lockedBuffer{}),
		Now:       clock,
	}
	return svc, store, chainFake
}

func TestQuoteAmounts(t *testing.T) {
	rate := decimal.NewFromInt(50000)
	for _, tc := range []struct {
		amount   string
		currency string
		base     int64
		quote    int64
	}{
		{amount: "0.001", currency: common.CurrencyBTC, base: 100_000, quote: 5000},
		{amount: "50", currency: common.CurrencyUSD, base: 100_000, quote: 5000},
		{amount: "0.00000001", currency: common.CurrencyBTC, base: 1, quote: 0},
		{amount: "19.99", currency: common.CurrencyUSD, base: 39_980, quote: 1999},
		{amount: "0.123456789", currency: common.CurrencyBTC, base: 12_345_679, quote: 617_284},
	} {
		base, quote, err := QuoteAmounts(decimal.RequireFromString(tc.amount), tc.currency, rate)
		require.NoError(t, err, tc.amount)
		assert.Equal(t, tc.base, base, tc.amount)
		assert.Equal(t, tc.quote, quote, tc.amount)
	}
}

func TestQuoteAmountsRejectsDust(t *testing.T) {
	_, _, err := QuoteAmounts(decimal.RequireFromString("0.0001"), common.CurrencyUSD, decimal.NewFromInt(50000))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = QuoteAmounts(decimal.NewFromInt(-1), common.CurrencyBTC, decimal.NewFromInt(50000))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateInvoiceInBTC(t *testing.T) {
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	svc, store, chainFake := newCreatorService(now, fakeQuoter{rate: decimal.NewFromInt(50000)})

	invoice, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		MerchantID:  "m-1",
		Amount:      decimal.RequireFromString("0.00100000"),
		Currency:    common.CurrencyBTC,
		Description: "order #1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, invoice.ID)
	assert.Equal(t, common.InvoiceStatusPending, invoice.Status)
	assert.EqualValues(t, 100_000, invoice.AmountBase)
	assert.EqualValues(t, 5000, invoice.AmountQuote)
	assert.True(t, decimal.RequireFromString("50.00").Equal(invoice.AmountUSD()))
	assert.EqualValues(t, 0, invoice.Confirmations)
	assert.Equal(t, "bcrt1q-"+invoice.ID, invoice.PaymentAddress)
	assert.Equal(t, now.Add(30*time.Minute), invoice.ExpiresAt)
	assert.Equal(t, 1, chainFake.addresses)

	stored := store.get(invoice.ID)
	assert.Equal(t, "order #1", stored.Description)
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, _, _ := newCreatorService(time.Now(), fakeQuoter{rate: decimal.NewFromInt(50000)})

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		MerchantID: "m-1",
		Amount:     decimal.NewFromInt(1),
		Currency:   "EUR",
	})
	var validationErrs validator.ValidationErrors
	assert.ErrorAs(t, err, &validationErrs)

	_, err = svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		MerchantID: "m-1",
		Amount:     decimal.Zero,
		Currency:   common.CurrencyUSD,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateInvoiceUnknownMerchant(t *testing.T) {
	svc, _, chainFake := newCreatorService(time.Now(), fakeQuoter{rate: decimal.NewFromInt(50000)})

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		MerchantID: "nobody",
		Amount:     decimal.NewFromInt(1),
		Currency:   common.CurrencyUSD,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, chainFake.addresses)
}

func TestCreateInvoiceQuoteUnavailable(t *testing.T) {
	svc, _, chainFake := newCreatorService(time.Now(), fakeQuoter{err: errBoom})

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		MerchantID: "m-1",
		Amount:     decimal.NewFromInt(1),
		Currency:   common.CurrencyUSD,
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, chainFake.addresses)
}
