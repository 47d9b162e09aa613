package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/webhook"
	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"
)

// StartReconcileRoutine polls until ctx is cancelled. Cancellation is only
// observed between rounds: a started round always runs to completion.
func (svc *StackPayService) StartReconcileRoutine(ctx context.Context) error {
	svc.Logger.Infof("Starting reconciliation loop: poll interval %s, min confirmations %d, lock ttl %s",
		svc.Config.PollInterval(), svc.Config.MinConfirmations, svc.Config.LockTTL())

	for {
		select {
		case <-ctx.Done():
			svc.Logger.Info("Reconciliation loop stopped")
			return context.Canceled
		default:
		}

		wait := svc.Config.PollInterval()
		if err := svc.runOnce(context.WithoutCancel(ctx)); err != nil {
			svc.captureErr(err)
			wait = svc.Config.ErrorBackoff()
		}

		select {
		case <-ctx.Done():
			svc.Logger.Info("Reconciliation loop stopped")
			return context.Canceled
		case <-svc.after(wait):
		}
	}
}

// runOnce is one loop iteration: a round followed by the expiry sweep. Only
// a failure to list invoices is returned; the sweep logs its own errors.
func (svc *StackPayService) runOnce(ctx context.Context) error {
	if err := svc.ReconcileRound(ctx); err != nil {
		return err
	}
	_, _ = svc.ExpireStaleInvoices(ctx)
	return nil
}

// ReconcileRound makes one pass over all non-terminal invoices. Errors for a
// single invoice are reported and never abort the round.
func (svc *StackPayService) ReconcileRound(ctx context.Context) error {
	start := time.Now()
	invoices, err := svc.Invoices.ListNonTerminal(ctx)
	if err != nil {
		err = fmt.Errorf("listing non-terminal invoices: %w", err)
		svc.Metrics.ObserveRound(start, err)
		return err
	}
	svc.Logger.Debugf("Reconciling %d invoices", len(invoices))

	workers := svc.Config.ReconcileWorkers
	if workers < 1 {
		workers = 1
	}
	g := errgroup.Group{}
	g.SetLimit(workers)
	for i := range invoices {
		id := invoices[i].ID
		g.Go(func() error {
			if err := svc.reconcileInvoice(ctx, id); err != nil {
				svc.captureErr(fmt.Errorf("reconciling invoice %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	svc.Metrics.ObserveRound(start, nil)
	return nil
}

func (svc *StackPayService) reconcileInvoice(ctx context.Context, id string) error {
	acquired, err := svc.Locker.TryAcquire(ctx, id, svc.Config.LockTTL())
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !acquired {
		svc.Logger.Debugf("Invoice %s is being processed by another worker", id)
		return nil
	}

	// the listed row may be stale by the time the lock is ours
	invoice, err := svc.Invoices.FindByID(ctx, id)
	if err != nil {
		return err
	}

	switch invoice.Status {
	case common.InvoiceStatusPending:
		return svc.checkPending(ctx, invoice)
	case common.InvoiceStatusConfirming:
		return svc.checkConfirming(ctx, invoice)
	}
	return nil
}

func (svc *StackPayService) checkPending(ctx context.Context, invoice *models.Invoice) error {
	payment, err := svc.Chain.FindIncomingPayment(ctx, invoice.PaymentAddress, invoice.AmountBase)
	if err != nil {
		return err
	}
	if !payment.Found {
		return nil
	}

	changed, err := svc.Invoices.SetStatus(ctx, invoice.ID, common.InvoiceStatusConfirming, payment.TxRef)
	if err != nil {
		return &PersistenceError{Op: "set status confirming", InvoiceID: invoice.ID, Err: err}
	}
	if !changed {
		svc.Logger.Debugf("Invoice %s already left pending, not notifying again", invoice.ID)
		return nil
	}
	svc.Metrics.Transition(common.InvoiceStatusConfirming)
	svc.Logger.Infof("Payment received for invoice %s in tx %s (%d)", invoice.ID, payment.TxRef, payment.Amount)

	invoice.Status = common.InvoiceStatusConfirming
	if invoice.TxHash == "" {
		invoice.TxHash = payment.TxRef
	}
	return svc.notify(ctx, invoice.MerchantID, svc.payload(common.EventPaymentReceived, invoice))
}

func (svc *StackPayService) checkConfirming(ctx context.Context, invoice *models.Invoice) error {
	if invoice.TxHash == "" {
		svc.Logger.Warnf("Invoice %s is confirming without a tx reference", invoice.ID)
		return nil
	}

	status, err := svc.Chain.GetConfirmationDepth(ctx, invoice.TxHash)
	if err != nil {
		return err
	}

	switch {
	case status.Confirmations > invoice.Confirmations:
		if err := svc.Invoices.SetConfirmations(ctx, invoice.ID, status.Confirmations); err != nil {
			return &PersistenceError{Op: "set confirmations", InvoiceID: invoice.ID, Err: err}
		}
		invoice.Confirmations = status.Confirmations
	case status.Confirmations < invoice.Confirmations:
		svc.Logger.Warnf("Invoice %s: tx %s reports %d confirmations, %d stored; keeping the stored count",
			invoice.ID, invoice.TxHash, status.Confirmations, invoice.Confirmations)
	}

	if status.Confirmations < int64(svc.Config.MinConfirmations) {
		return nil
	}

	changed, err := svc.Invoices.SetStatus(ctx, invoice.ID, common.InvoiceStatusConfirmed, "")
	if err != nil {
		return &PersistenceError{Op: "set status confirmed", InvoiceID: invoice.ID, Err: err}
	}
	if !changed {
		return nil
	}
	svc.Metrics.Transition(common.InvoiceStatusConfirmed)
	svc.Logger.Infof("Invoice %s confirmed with %d confirmations", invoice.ID, status.Confirmations)
	invoice.Status = common.InvoiceStatusConfirmed

	payload := svc.payload(common.EventPaymentConfirmed, invoice)
	payload.Confirmations = status.Confirmations
	if result := svc.autoConvert(ctx, invoice); result.Status == ConversionSucceeded {
		payload.ConversionTx = result.TxRef
	}
	return svc.notify(ctx, invoice.MerchantID, payload)
}

// ExpireStaleInvoices runs the expiry sweep. It takes no locks: the sweep
// only touches pending rows and the conditional update makes it safe.
func (svc *StackPayService) ExpireStaleInvoices(ctx context.Context) (int, error) {
	n, err := svc.Invoices.ExpireStale(ctx)
	if err != nil {
		err = &PersistenceError{Op: "expire stale invoices", Err: err}
		svc.captureErr(err)
		return 0, err
	}
	if n > 0 {
		svc.Logger.Infof("Expired %d invoices", n)
	}
	svc.Metrics.Expired(n)
	return n, nil
}

func (svc *StackPayService) payload(event string, invoice *models.Invoice) webhook.Payload {
	return webhook.NewPayload(event, invoice, svc.now())
}

// notify enqueues a webhook job. Delivery happens later and its outcome
// never touches the invoice.
func (svc *StackPayService) notify(ctx context.Context, merchantID string, payload webhook.Payload) error {
	if err := svc.Notifier.Notify(ctx, merchantID, payload); err != nil {
		return fmt.Errorf("enqueueing %s for invoice %s: %w", payload.Event, payload.InvoiceID, err)
	}
	return nil
}

func (svc *StackPayService) after(d time.Duration) <-chan time.Time {
	if svc.After != nil {
		return svc.After(d)
	}
	return time.After(d)
}

func (svc *StackPayService) captureErr(err error) {
	svc.Logger.Error(err)
	sentry.CaptureException(err)
}
