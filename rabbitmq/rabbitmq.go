package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Abidoyesimze/StackPay/lib/webhook"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool reuses encode buffers between publishes.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"

	webhookBindingKey = "webhook.#"
	// dead-lettered retries come back to the exchange under this key
	webhookRetryKey = "webhook.retry"
)

// DefaultClient is the webhook.Broker backed by RabbitMQ. Delayed
// redelivery uses one TTL queue per delay whose expired messages are
// dead-lettered back to the webhook exchange.
type DefaultClient struct {
	amqpClient AMQPClient
	logger     *lecho.Logger

	webhookExchange       string
	webhookQueueName      string
	webhookRetryQueueName string

	declaredMu    sync.Mutex
	declaredDelay map[time.Duration]string
}

type ClientOption = func(client *DefaultClient)

func WithWebhookExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.webhookExchange = exchange
	}
}

func WithWebhookQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.webhookQueueName = name
	}
}

func WithWebhookRetryQueueName(name string) ClientOption {
	return func(client *DefaultClient) {
		client.webhookRetryQueueName = name
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

func NewClient(amqpClient AMQPClient, options ...ClientOption) (*DefaultClient, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,
		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),
		webhookExchange:       "stackpay_webhook",
		webhookQueueName:      "stackpay_webhook_consumer",
		webhookRetryQueueName: "stackpay_webhook_retry",
		declaredDelay:         map[time.Duration]string{},
	}
	for _, opt := range options {
		opt(client)
	}

	err := amqpClient.ExchangeDeclare(
		client.webhookExchange,
		"topic",
		// durable, not auto-deleted
		true,
		false,
		// non-internal exchanges accept direct publishing
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

// retryQueue declares, once per delay, the queue holding jobs until their
// delay has passed.
func (client *DefaultClient) retryQueue(delay time.Duration) (string, error) {
	client.declaredMu.Lock()
	defer client.declaredMu.Unlock()

	if name, ok := client.declaredDelay[delay]; ok {
		return name, nil
	}

	name := fmt.Sprintf("%s.%d", client.webhookRetryQueueName, delay.Milliseconds())
	_, err := client.amqpClient.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             delay.Milliseconds(),
			"x-dead-letter-exchange":    client.webhookExchange,
			"x-dead-letter-routing-key": webhookRetryKey,
		},
	)
	if err != nil {
		return "", err
	}
	client.declaredDelay[delay] = name
	return name, nil
}

func (client *DefaultClient) PublishJob(ctx context.Context, job webhook.Job, delay time.Duration) error {
	payload := bufPool.Get().(*bytes.Buffer)
	defer func() {
		payload.Reset()
		bufPool.Put(payload)
	}()
	if err := json.NewEncoder(payload).Encode(job); err != nil {
		return err
	}

	exchange := client.webhookExchange
	key := "webhook." + job.Payload.Event
	if delay > 0 {
		queue, err := client.retryQueue(delay)
		if err != nil {
			captureErr(client.logger, err)
			return err
		}
		// the default exchange routes straight to the named queue
		exchange, key = "", queue
	}

	err := client.amqpClient.PublishWithContext(ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Timestamp:    time.Now(),
			Headers:      amqp.Table{"attempt": strconv.Itoa(job.Attempt)},
			Body:         payload.Bytes(),
		},
	)
	if err != nil {
		captureErr(client.logger, err)
		return err
	}

	client.logger.Debugf("Published %s job %s for invoice %s (attempt %d, delay %s)",
		job.Payload.Event, job.ID, job.Payload.InvoiceID, job.Attempt, delay)
	return nil
}

func (client *DefaultClient) ConsumeJobs(ctx context.Context, handler func(context.Context, webhook.Job) error) error {
	deliveries, err := client.amqpClient.Listen(ctx, client.webhookExchange, webhookBindingKey, client.webhookQueueName)
	if err != nil {
		return err
	}

	client.logger.Info("Starting webhook rabbitmq consumer loop")
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("disconnected from RabbitMQ")
			}

			job := webhook.Job{}
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				captureErr(client.logger, err)
				// malformed messages are never requeued
				if err := delivery.Nack(false, false); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := handler(ctx, job); err != nil {
				captureErr(client.logger, err)
				// requeue, bounded by the queue's delivery-limit
				if err := delivery.Nack(false, true); err != nil {
					captureErr(client.logger, err)
				}
				continue
			}

			if err := delivery.Ack(false); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
