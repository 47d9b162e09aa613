package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/lib/webhook"
	"github.com/Abidoyesimze/StackPay/rabbitmq"
	"github.com/Abidoyesimze/StackPay/rabbitmq/mock_rabbitmq"
	"github.com/golang/mock/gomock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:generate mockgen -destination=./mock_rabbitmq/rabbitmq.go github.com/Abidoyesimze/StackPay/rabbitmq AMQPClient

type ackRecorder struct {
	acked    []uint64
	requeued []uint64
	dropped  []uint64
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple bool, requeue bool) error {
	if requeue {
		a.requeued = append(a.requeued, tag)
	} else {
		a.dropped = append(a.dropped, tag)
	}
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func newMockedClient(t *testing.T) (*rabbitmq.DefaultClient, *mock_rabbitmq.MockAMQPClient) {
	ctrl := gomock.NewController(t)
	amqpClient := mock_rabbitmq.NewMockAMQPClient(ctrl)
	amqpClient.EXPECT().
		ExchangeDeclare("stackpay_webhook", "topic", true, false, false, false, gomock.Nil()).
		Times(1).
		Return(nil)

	client, err := rabbitmq.NewClient(amqpClient)
	require.NoError(t, err)
	return client, amqpClient
}

func testJob(id string) webhook.Job {
	return webhook.Job{
		ID:          id,
		MerchantID:  "m-1",
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		Payload:     webhook.Payload{Event: common.EventPaymentReceived, InvoiceID: "inv-1"},
	}
}

func TestPublishJobRoutesImmediateJobsToExchange(t *testing.T) {
	client, amqpClient := newMockedClient(t)

	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), "stackpay_webhook", "webhook.payment.received", false, false, gomock.Any()).
		Times(1).
		DoAndReturn(func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
			job := webhook.Job{}
			require.NoError(t, json.Unmarshal(msg.Body, &job))
			assert.Equal(t, "job-1", job.ID)
			assert.Equal(t, "inv-1", job.Payload.InvoiceID)
			assert.Equal(t, "application/json", msg.ContentType)
			assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
			return nil
		})

	require.NoError(t, client.PublishJob(context.Background(), testJob("job-1"), 0))
}

func TestPublishJobParksDelayedJobsInRetryQueue(t *testing.T) {
	client, amqpClient := newMockedClient(t)

	amqpClient.EXPECT().
		QueueDeclare("stackpay_webhook_retry.2000", true, false, false, false, gomock.Any()).
		Times(1).
		DoAndReturn(func(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
			assert.EqualValues(t, 2000, args["x-message-ttl"])
			assert.Equal(t, "stackpay_webhook", args["x-dead-letter-exchange"])
			assert.Equal(t, "webhook.retry", args["x-dead-letter-routing-key"])
			return amqp.Queue{Name: name}, nil
		})
	amqpClient.EXPECT().
		PublishWithContext(gomock.Any(), "", "stackpay_webhook_retry.2000", false, false, gomock.Any()).
		Times(2).
		Return(nil)

	job := testJob("job-1")
	job.Attempt = 1
	require.NoError(t, client.PublishJob(context.Background(), job, 2*time.Second))
	// the retry queue is declared only once per delay
	require.NoError(t, client.PublishJob(context.Background(), job, 2*time.Second))
}

func TestConsumeJobsAcknowledgesByOutcome(t *testing.T) {
	client, amqpClient := newMockedClient(t)

	acks := &ackRecorder{}
	deliveries := make(chan amqp.Delivery, 3)
	for tag, id := range []string{"ok", "fail"} {
		body, err := json.Marshal(testJob(id))
		require.NoError(t, err)
		deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: uint64(tag + 1), Body: body}
	}
	deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 3, Body: []byte("not json")}
	close(deliveries)

	amqpClient.EXPECT().
		Listen(gomock.Any(), "stackpay_webhook", "webhook.#", "stackpay_webhook_consumer").
		Times(1).
		Return((<-chan amqp.Delivery)(deliveries), nil)

	handled := []string{}
	err := client.ConsumeJobs(context.Background(), func(ctx context.Context, job webhook.Job) error {
		handled = append(handled, job.ID)
		if job.ID == "fail" {
			return errors.New("merchant lookup failed")
		}
		return nil
	})

	assert.EqualError(t, err, "disconnected from RabbitMQ")
	assert.Equal(t, []string{"ok", "fail"}, handled)
	assert.Equal(t, []uint64{1}, acks.acked)
	assert.Equal(t, []uint64{2}, acks.requeued)
	assert.Equal(t, []uint64{3}, acks.dropped)
}

func TestConsumeJobsStopsOnCancel(t *testing.T) {
	client, amqpClient := newMockedClient(t)

	amqpClient.EXPECT().
		Listen(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return((<-chan amqp.Delivery)(make(chan amqp.Delivery)), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.ConsumeJobs(ctx, func(ctx context.Context, job webhook.Job) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
