package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
)

type ConversionStatus string

const (
	ConversionSkipped   ConversionStatus = "skipped"
	ConversionSucceeded ConversionStatus = "succeeded"
	ConversionFailed    ConversionStatus = "failed"
)

var errNoPayoutAddress = errors.New("merchant has no payout address")

// ConversionResult is the outcome of an escrow release attempt. A failed
// release leaves the invoice confirmed and is not retried.
type ConversionResult struct {
	Status ConversionStatus
	TxRef  string
	Err    error
}

func (svc *StackPayService) autoConvert(ctx context.Context, invoice *models.Invoice) ConversionResult {
	merchant, err := svc.Merchants.FindByID(ctx, invoice.MerchantID)
	if err != nil {
		return svc.conversionFailed(invoice, fmt.Errorf("looking up merchant %s: %w", invoice.MerchantID, err))
	}
	if !merchant.AutoConvertEnabled {
		return ConversionResult{Status: ConversionSkipped}
	}
	if merchant.PayoutAddress == "" {
		return svc.conversionFailed(invoice, errNoPayoutAddress)
	}

	svc.Logger.Infof("Releasing %d for invoice %s to %s", invoice.AmountBase, invoice.ID, merchant.PayoutAddress)
	txRef, err := svc.Chain.ReleaseFunds(ctx, invoice.ID, merchant.PayoutAddress, invoice.AmountBase)
	if err != nil {
		return svc.conversionFailed(invoice, err)
	}
	svc.Logger.Infof("Escrow released for invoice %s in tx %s", invoice.ID, txRef)

	payload := svc.payload(common.EventConversionCompleted, invoice)
	payload.ConversionTx = txRef
	if err := svc.notify(ctx, merchant.ID, payload); err != nil {
		svc.captureErr(err)
	}
	return ConversionResult{Status: ConversionSucceeded, TxRef: txRef}
}

func (svc *StackPayService) conversionFailed(invoice *models.Invoice, err error) ConversionResult {
	err = &ConversionError{InvoiceID: invoice.ID, Err: err}
	svc.captureErr(err)
	return ConversionResult{Status: ConversionFailed, Err: err}
}
