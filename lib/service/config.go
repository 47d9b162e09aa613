package service

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	DatabaseUri             string  `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns        int     `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int     `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int     `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN               string  `envconfig:"SENTRY_DSN"`
	DatadogAgentUrl         string  `envconfig:"DATADOG_AGENT_URL"`
	SentryTracesSampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath             string  `envconfig:"LOG_FILE_PATH"`
	LogLevel                string  `envconfig:"LOG_LEVEL" default:"info"`
	Port                    int     `envconfig:"PORT" default:"3000"`
	DefaultRateLimit        int     `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	EnablePrometheus        bool    `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int     `envconfig:"PROMETHEUS_PORT" default:"9092"`

	PollIntervalMs       int `envconfig:"POLL_INTERVAL_MS" default:"10000"`
	ErrorBackoffMs       int `envconfig:"ERROR_BACKOFF_MS" default:"5000"`
	MinConfirmations     int `envconfig:"MIN_CONFIRMATIONS" default:"3"`
	InvoiceExpiryMinutes int `envconfig:"INVOICE_EXPIRY_MINUTES" default:"30"`
	LockTTLMs            int `envconfig:"LOCK_TTL_MS" default:"5000"`
	// postgres, redis, etcd or memory
	LockBackend      string `envconfig:"LOCK_BACKEND" default:"postgres"`
	ReconcileWorkers int    `envconfig:"RECONCILE_WORKERS" default:"1"`
	InstanceName     string `envconfig:"INSTANCE_NAME"`

	WebhookMaxAttempts   int     `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"3"`
	WebhookBackoffBaseMs int     `envconfig:"WEBHOOK_BACKOFF_BASE_MS" default:"2000"`
	WebhookTimeoutMs     int     `envconfig:"WEBHOOK_TIMEOUT_MS" default:"10000"`
	WebhookRateLimit     float64 `envconfig:"WEBHOOK_RATE_LIMIT" default:"20"` // deliveries per second, 0 disables
	WebhookWorkers       int     `envconfig:"WEBHOOK_WORKERS" default:"4"`
	WebhookQueueSize     int     `envconfig:"WEBHOOK_QUEUE_SIZE" default:"1024"`
	WebhookSigningSecret []byte  `envconfig:"WEBHOOK_SIGNING_SECRET"`

	RabbitMQUri               string `envconfig:"RABBITMQ_URI"`
	RabbitMQWebhookExchange   string `envconfig:"RABBITMQ_WEBHOOK_EXCHANGE" default:"stackpay_webhook"`
	RabbitMQWebhookQueueName  string `envconfig:"RABBITMQ_WEBHOOK_QUEUE_NAME" default:"stackpay_webhook_consumer"`
	RabbitMQWebhookRetryQueue string `envconfig:"RABBITMQ_WEBHOOK_RETRY_QUEUE_NAME" default:"stackpay_webhook_retry"`
	RedisUri                  string `envconfig:"REDIS_URI"`
	EtcdEndpoints             string `envconfig:"ETCD_ENDPOINTS"` // comma-separated
	EtcdLockPrefix            string `envconfig:"ETCD_LOCK_PREFIX" default:"/stackpay/locks"`
	BTCPriceAPI               string `envconfig:"BTC_PRICE_API" default:"https://api.coinbase.com/v2/exchange-rates?currency=BTC"`
	PriceCacheTTLSeconds      int    `envconfig:"PRICE_CACHE_TTL_SECONDS" default:"60"`
	PriceRequestTimeoutMs     int    `envconfig:"PRICE_REQUEST_TIMEOUT_MS" default:"5000"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMs) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMs) * time.Millisecond
}

func (c *Config) InvoiceExpiry() time.Duration {
	return time.Duration(c.InvoiceExpiryMinutes) * time.Minute
}

func (c *Config) WebhookBackoffBase() time.Duration {
	return time.Duration(c.WebhookBackoffBaseMs) * time.Millisecond
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMs) * time.Millisecond
}

func (c *Config) EtcdEndpointList() []string {
	endpoints := []string{}
	for _, e := range strings.Split(c.EtcdEndpoints, ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}

// Validate rejects settings the reconciler cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.PollIntervalMs <= 0:
		return &FatalConfigError{Setting: "POLL_INTERVAL_MS", Reason: "must be positive"}
	case c.MinConfirmations < 1:
		return &FatalConfigError{Setting: "MIN_CONFIRMATIONS", Reason: "must be at least 1"}
	case c.InvoiceExpiryMinutes <= 0:
		return &FatalConfigError{Setting: "INVOICE_EXPIRY_MINUTES", Reason: "must be positive"}
	case c.LockTTLMs <= 0:
		return &FatalConfigError{Setting: "LOCK_TTL_MS", Reason: "must be positive"}
	case c.WebhookMaxAttempts < 1:
		return &FatalConfigError{Setting: "WEBHOOK_MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	switch c.LockBackend {
	case "postgres", "memory":
	case "redis":
		if c.RedisUri == "" {
			return &FatalConfigError{Setting: "REDIS_URI", Reason: "required for the redis lock backend"}
		}
	case "etcd":
		if len(c.EtcdEndpointList()) == 0 {
			return &FatalConfigError{Setting: "ETCD_ENDPOINTS", Reason: "required for the etcd lock backend"}
		}
	default:
		return &FatalConfigError{Setting: "LOCK_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.LockBackend)}
	}
	return nil
}
