package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/metrics"
	"github.com/ziflex/lecho/v3"
)

type MerchantLookup interface {
	FindByID(ctx context.Context, id string) (*models.Merchant, error)
}

// DroppedError means the job can never be delivered and must not be retried.
type DroppedError struct {
	JobID  string
	Reason string
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("webhook job %s dropped: %s", e.JobID, e.Reason)
}

func IsDropped(err error) bool {
	var dropped *DroppedError
	return errors.As(err, &dropped)
}

// Processor performs a single delivery attempt for a job.
type Processor struct {
	merchants MerchantLookup
	deliverer Deliverer
	logger    *lecho.Logger
	metrics   *metrics.Collectors
}

func NewProcessor(merchants MerchantLookup, deliverer Deliverer, logger *lecho.Logger, m *metrics.Collectors) *Processor {
	return &Processor{
		merchants: merchants,
		deliverer: deliverer,
		logger:    logger,
		metrics:   m,
	}
}

func (p *Processor) Process(ctx context.Context, job Job) error {
	merchant, err := p.merchants.FindByID(ctx, job.MerchantID)
	if errors.Is(err, common.ErrNotFound) {
		p.logger.Warnf("webhook: merchant %s not found, dropping %s job %s", job.MerchantID, job.Payload.Event, job.ID)
		p.metrics.Delivery("dropped")
		return &DroppedError{JobID: job.ID, Reason: "merchant not found"}
	}
	if err != nil {
		p.metrics.Delivery("failed")
		return fmt.Errorf("looking up merchant %s: %w", job.MerchantID, err)
	}
	if !merchant.HasWebhook() {
		p.logger.Infof("webhook: merchant %s has no webhook url, dropping %s job %s", merchant.ID, job.Payload.Event, job.ID)
		p.metrics.Delivery("dropped")
		return &DroppedError{JobID: job.ID, Reason: "no webhook url"}
	}

	if err := p.deliverer.Deliver(ctx, merchant.WebhookURL, job.Payload); err != nil {
		p.metrics.Delivery("failed")
		return err
	}
	p.metrics.Delivery("delivered")
	p.logger.Debugf("webhook: delivered %s for invoice %s to merchant %s", job.Payload.Event, job.Payload.InvoiceID, merchant.ID)
	return nil
}
