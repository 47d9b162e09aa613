package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Abidoyesimze/StackPay/db"
	"github.com/Abidoyesimze/StackPay/lib/logging"
	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// one-shot expiry sweep, for running from cron next to or instead of the
// sweep inside the reconciliation loop
func main() {
	c := &service.Config{}

	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{Dsn: c.SentryDSN}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	svc := &service.StackPayService{
		Config:   c,
		Invoices: db.NewInvoiceStore(dbConn),
		Logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := svc.ExpireStaleInvoices(ctx)
	if err != nil {
		// already logged and reported
		return
	}
	logger.Infof("Expiry sweep done, %d invoices expired", n)
}
