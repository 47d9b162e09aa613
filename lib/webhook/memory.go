package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Abidoyesimze/StackPay/lib/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/ziflex/lecho/v3"
)

var ErrDispatcherStopped = errors.New("webhook dispatcher stopped")

// MemoryDispatcher queues jobs in a buffered channel drained by a fixed
// worker pool. Jobs still queued when the process exits are lost; use the
// RabbitMQ dispatcher when that matters.
type MemoryDispatcher struct {
	jobs      chan Job
	stopped   chan struct{}
	stopOnce  sync.Once
	processor *Processor
	policy    RetryPolicy
	workers   int
	logger    *lecho.Logger
	metrics   *metrics.Collectors
}

func NewMemoryDispatcher(processor *Processor, policy RetryPolicy, workers, queueSize int, logger *lecho.Logger, m *metrics.Collectors) *MemoryDispatcher {
	if workers < 1 {
		workers = 1
	}
	return &MemoryDispatcher{
		jobs:      make(chan Job, queueSize),
		stopped:   make(chan struct{}),
		processor: processor,
		policy:    policy,
		workers:   workers,
		logger:    logger,
		metrics:   m,
	}
}

func (d *MemoryDispatcher) Notify(ctx context.Context, merchantID string, payload Payload) error {
	job := d.policy.NewJob(merchantID, payload)
	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrDispatcherStopped
	}
}

// Start runs the workers until ctx is cancelled.
func (d *MemoryDispatcher) Start(ctx context.Context) error {
	d.logger.Infof("Starting webhook dispatcher with %d workers", d.workers)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					d.run(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	d.stopOnce.Do(func() { close(d.stopped) })
	if n := len(d.jobs); n > 0 {
		d.logger.Warnf("webhook: dispatcher stopped with %d queued jobs", n)
	}
	return context.Canceled
}

func (d *MemoryDispatcher) run(ctx context.Context, job Job) {
	err := backoff.RetryNotify(func() error {
		err := d.processor.Process(ctx, job)
		if err == nil {
			return nil
		}
		job.Attempt++
		if IsDropped(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(job.backOff(), ctx), func(err error, next time.Duration) {
		d.logger.Warnf("webhook: %s job %s attempt %d/%d failed, retrying in %s: %v",
			job.Payload.Event, job.ID, job.Attempt, job.MaxAttempts, next, err)
	})

	switch {
	case err == nil, IsDropped(err):
	case errors.Is(err, context.Canceled):
		d.logger.Infof("webhook: dispatcher stopped before %s job %s finished", job.Payload.Event, job.ID)
	default:
		d.abandon(job, err)
	}
}

func (d *MemoryDispatcher) abandon(job Job, err error) {
	d.metrics.Delivery("abandoned")
	d.logger.Errorf("webhook: abandoning %s job %s for invoice %s after %d attempts: %v",
		job.Payload.Event, job.ID, job.Payload.InvoiceID, job.Attempt, err)
}
