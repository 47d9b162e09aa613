package webhook

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedJob struct {
	job   Job
	delay time.Duration
}

type fakeBroker struct {
	published []publishedJob
}

func (b *fakeBroker) PublishJob(ctx context.Context, job Job, delay time.Duration) error {
	b.published = append(b.published, publishedJob{job: job, delay: delay})
	return nil
}

// ConsumeJobs drains published jobs in order, ignoring delays.
func (b *fakeBroker) ConsumeJobs(ctx context.Context, handler func(context.Context, Job) error) error {
	for i := 0; i < len(b.published); i++ {
		if err := handler(ctx, b.published[i].job); err != nil {
			return err
		}
	}
	return nil
}

func TestQueueDispatcherRepublishesWithBackoff(t *testing.T) {
	out := &syncBuffer{}
	logger := testLogger(out)
	deliverer := &scriptedDeliverer{failures: 100}
	merchants := merchantMap{"m-1": {ID: "m-1", WebhookURL: "http://merchant.test/hook"}}
	broker := &fakeBroker{}
	policy := RetryPolicy{MaxAttempts: 3, BackoffBase: 2 * time.Second}
	d := NewQueueDispatcher(broker, NewProcessor(merchants, deliverer, logger, nil), policy, logger, nil)

	require.NoError(t, d.Notify(context.Background(), "m-1", testPayload()))
	require.NoError(t, d.Start(context.Background()))

	require.Len(t, broker.published, 3)
	assert.Equal(t, time.Duration(0), broker.published[0].delay)
	assert.Equal(t, 2*time.Second, broker.published[1].delay)
	assert.Equal(t, 1, broker.published[1].job.Attempt)
	assert.Equal(t, 4*time.Second, broker.published[2].delay)
	assert.Equal(t, 2, broker.published[2].job.Attempt)
	assert.EqualValues(t, 3, deliverer.calls)
	assert.Equal(t, 1, strings.Count(out.String(), "abandoning"))
}

func TestQueueDispatcherDropsWithoutRepublishing(t *testing.T) {
	out := &syncBuffer{}
	logger := testLogger(out)
	broker := &fakeBroker{}
	d := NewQueueDispatcher(broker, NewProcessor(merchantMap{}, &scriptedDeliverer{}, logger, nil), fastPolicy, logger, nil)

	require.NoError(t, d.Notify(context.Background(), "missing", testPayload()))
	require.NoError(t, d.Start(context.Background()))

	assert.Len(t, broker.published, 1)
	assert.NotContains(t, out.String(), "abandoning")
}
