package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Abidoyesimze/StackPay/chain"
	v2controllers "github.com/Abidoyesimze/StackPay/controllers_v2"
	"github.com/Abidoyesimze/StackPay/db"
	"github.com/Abidoyesimze/StackPay/db/migrations"
	"github.com/Abidoyesimze/StackPay/lib/logging"
	"github.com/Abidoyesimze/StackPay/lib/metrics"
	"github.com/Abidoyesimze/StackPay/lib/pricing"
	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/Abidoyesimze/StackPay/lib/transport"
	"github.com/Abidoyesimze/StackPay/lib/webhook"
	"github.com/Abidoyesimze/StackPay/lock"
	"github.com/Abidoyesimze/StackPay/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/migrate"
	"github.com/ziflex/lecho/v3"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

func main() {
	c := &service.Config{}

	// Load configuration from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	var fatal *service.FatalConfigError
	if err := c.Validate(); errors.As(err, &fatal) {
		logger.Fatalf("Refusing to start: %v", err)
	}

	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()
	err = db.WaitReady(startupCtx, dbConn, func(err error, next time.Duration) {
		logger.Warnf("Database not ready, retrying in %s: %v", next, err)
	})
	if err != nil {
		logger.Fatalf("Database unreachable: %v", err)
	}
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	_, err = migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}

	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	chainCfg, err := chain.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading chain config: %v", err)
	}
	backend, err := chain.InitBackend(chainCfg, logger)
	if err != nil {
		logger.Fatalf("Refusing to start: %v", err)
	}
	defer backend.Close()
	logger.Infof("Using %s chain backend", chainCfg.Backend)

	owner := instanceName(c)
	locker, closeLocker, err := lock.InitLocker(startupCtx, c, dbConn, owner, logger)
	if err != nil {
		logger.Fatalf("Error initializing %s lock backend: %v", c.LockBackend, err)
	}
	defer closeLocker()

	collectors := metrics.New(prometheus.DefaultRegisterer)
	merchants := db.NewMerchantStore(dbConn)

	notifications, closeDispatcher := initDispatcher(c, merchants, collectors, logger)
	defer closeDispatcher()

	var priceCache pricing.Cache = pricing.NewMemoryCache()
	if c.RedisUri != "" {
		opts, err := redis.ParseURL(c.RedisUri)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URI: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		priceCache = pricing.NewRedisCache(redisClient)
	}

	svc := &service.StackPayService{
		Config:    c,
		Invoices:  db.NewInvoiceStore(dbConn),
		Merchants: merchants,
		Chain:     backend,
		Addresses: backend,
		Locker:    locker,
		Notifier:  notifications,
		Quotes: pricing.NewCoinbaseQuoter(c.BTCPriceAPI,
			time.Duration(c.PriceRequestTimeoutMs)*time.Millisecond,
			priceCache,
			time.Duration(c.PriceCacheTTLSeconds)*time.Second,
			logger),
		Metrics: collectors,
		Logger:  logger,
	}

	e := transport.InitEcho(c, logger)
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl), tracer.WithService("stackpay"))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("stackpay")))
	}
	transport.RegisterOperationalEndpoints(e, v2controllers.NewHealthController(dbConn), transport.CreateLoggingMiddleware(logger))

	var echoPrometheus *echo.Echo
	if c.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, c, e)
	}

	var backgroundWg sync.WaitGroup
	backgroundCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backgroundWg.Add(1)
	go func() {
		defer backgroundWg.Done()
		if err := svc.RunBackground(backgroundCtx, notifications); err != nil && !errors.Is(err, context.Canceled) {
			sentry.CaptureException(err)
			logger.Error(err)
		}
		logger.Info("Background routines done")
	}()

	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backgroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			logger.Error(err)
		}
	}
	backgroundWg.Wait()
	logger.Info("StackPay exiting gracefully. Goodbye.")
}

func instanceName(c *service.Config) string {
	if c.InstanceName != "" {
		return c.InstanceName
	}
	host, err := os.Hostname()
	if err != nil {
		host = "stackpay"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// initDispatcher picks RabbitMQ when RABBITMQ_URI is set and the in-process
// worker pool otherwise.
func initDispatcher(c *service.Config, merchants webhook.MerchantLookup, m *metrics.Collectors, logger *lecho.Logger) (service.Dispatcher, func()) {
	deliverer := webhook.NewHTTPDeliverer(c.WebhookTimeout(), c.WebhookRateLimit, c.WebhookSigningSecret)
	processor := webhook.NewProcessor(merchants, deliverer, logger, m)
	policy := webhook.RetryPolicy{MaxAttempts: c.WebhookMaxAttempts, BackoffBase: c.WebhookBackoffBase()}

	if c.RabbitMQUri == "" {
		logger.Info("RABBITMQ_URI not set, webhooks are queued in memory")
		return webhook.NewMemoryDispatcher(processor, policy, c.WebhookWorkers, c.WebhookQueueSize, logger, m), func() {}
	}

	amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAMQPLogger(logger))
	if err != nil {
		logger.Fatal(err)
	}
	broker, err := rabbitmq.NewClient(amqpClient,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithWebhookExchange(c.RabbitMQWebhookExchange),
		rabbitmq.WithWebhookQueueName(c.RabbitMQWebhookQueueName),
		rabbitmq.WithWebhookRetryQueueName(c.RabbitMQWebhookRetryQueue),
	)
	if err != nil {
		logger.Fatal(err)
	}
	return webhook.NewQueueDispatcher(broker, processor, policy, logger, m), func() { broker.Close() }
}
