package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	sqltrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/database/sql"
)

const applicationName = "stackpay"

// Open returns a pool for DATABASE_URI. Only postgres is supported: the
// lifecycle updates depend on now() and RETURNING.
func Open(config *service.Config) (*bun.DB, error) {
	u, err := url.Parse(config.DatabaseUri)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URI: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "unix":
	default:
		return nil, fmt.Errorf("unsupported database scheme %q, only (postgres|postgresql|unix):// is supported", u.Scheme)
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(config.DatabaseUri),
		pgdriver.WithApplicationName(applicationName),
	)
	var sqlDB *sql.DB
	if config.DatadogAgentUrl != "" {
		sqltrace.Register("postgres", pgdriver.Driver{}, sqltrace.WithServiceName(applicationName))
		sqlDB = sqltrace.OpenDB(connector)
	} else {
		sqlDB = sql.OpenDB(connector)
	}

	db := bun.NewDB(sqlDB, pgdialect.New())
	db.SetMaxOpenConns(config.DatabaseMaxConns)
	db.SetMaxIdleConns(config.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.DatabaseConnMaxLifetime) * time.Second)

	// BUNDEBUG=1 logs failed queries, BUNDEBUG=2 all of them
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv("BUNDEBUG"),
	))
	return db, nil
}

// WaitReady pings the database until it answers or ctx is done, so the
// process can start alongside its database.
func WaitReady(ctx context.Context, db *bun.DB, notify func(error, time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(b, ctx), notify)
}
