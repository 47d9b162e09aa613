package webhook

import (
	"context"
	"time"

	"github.com/Abidoyesimze/StackPay/lib/metrics"
	"github.com/ziflex/lecho/v3"
)

// Broker is a durable job queue with delayed redelivery.
type Broker interface {
	PublishJob(ctx context.Context, job Job, delay time.Duration) error
	// ConsumeJobs blocks until ctx is done. A handler error asks the broker
	// to redeliver the message.
	ConsumeJobs(ctx context.Context, handler func(context.Context, Job) error) error
}

// QueueDispatcher keeps jobs in a broker so they survive restarts. Retries
// are scheduled by republishing the job with its next delay.
type QueueDispatcher struct {
	broker    Broker
	processor *Processor
	policy    RetryPolicy
	logger    *lecho.Logger
	metrics   *metrics.Collectors
}

func NewQueueDispatcher(broker Broker, processor *Processor, policy RetryPolicy, logger *lecho.Logger, m *metrics.Collectors) *QueueDispatcher {
	return &QueueDispatcher{
		broker:    broker,
		processor: processor,
		policy:    policy,
		logger:    logger,
		metrics:   m,
	}
}

func (d *QueueDispatcher) Notify(ctx context.Context, merchantID string, payload Payload) error {
	return d.broker.PublishJob(ctx, d.policy.NewJob(merchantID, payload), 0)
}

func (d *QueueDispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting webhook queue consumer")
	return d.broker.ConsumeJobs(ctx, d.handle)
}

func (d *QueueDispatcher) handle(ctx context.Context, job Job) error {
	err := d.processor.Process(ctx, job)
	if err == nil || IsDropped(err) {
		return nil
	}
	job.Attempt++
	if job.Exhausted() {
		d.metrics.Delivery("abandoned")
		d.logger.Errorf("webhook: abandoning %s job %s for invoice %s after %d attempts: %v",
			job.Payload.Event, job.ID, job.Payload.InvoiceID, job.Attempt, err)
		return nil
	}
	delay := job.NextDelay()
	d.logger.Warnf("webhook: %s job %s attempt %d/%d failed, retrying in %s: %v",
		job.Payload.Event, job.ID, job.Attempt, job.MaxAttempts, delay, err)
	return d.broker.PublishJob(ctx, job, delay)
}
