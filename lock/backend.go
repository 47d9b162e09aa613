package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/Abidoyesimze/StackPay/db"
	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	POSTGRES_BACKEND = "postgres"
	REDIS_BACKEND    = "redis"
	ETCD_BACKEND     = "etcd"
	MEMORY_BACKEND   = "memory"
)

// InitLocker builds the lock backend named by LOCK_BACKEND. The returned
// func closes any client the backend opened.
func InitLocker(ctx context.Context, c *service.Config, dbConn *bun.DB, owner string, logger *lecho.Logger) (service.Locker, func(), error) {
	noop := func() {}
	switch c.LockBackend {
	case POSTGRES_BACKEND:
		return db.NewClaimLocker(dbConn, owner), noop, nil
	case REDIS_BACKEND:
		opts, err := redis.ParseURL(c.RedisUri)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid REDIS_URI: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Infof("Using redis lock backend at %s", opts.Addr)
		return NewRedisLocker(client, owner), func() { client.Close() }, nil
	case ETCD_BACKEND:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   c.EtcdEndpointList(),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("connecting to etcd: %w", err)
		}
		logger.Infof("Using etcd lock backend at %v", c.EtcdEndpointList())
		return NewEtcdLocker(client, c.EtcdLockPrefix, owner), func() { client.Close() }, nil
	case MEMORY_BACKEND:
		logger.Warn("Using in-memory lock backend, only safe with a single reconciler process")
		return NewMemoryLocker(), noop, nil
	}
	return nil, noop, fmt.Errorf("lock backend not one of the defined options: %s", c.LockBackend)
}
