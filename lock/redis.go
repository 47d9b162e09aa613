package lock

import (
	"context"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/redis/go-redis/v9"
)

// RedisLocker uses SET NX PX on lock:invoice:<id>.
type RedisLocker struct {
	client redis.Cmdable
	owner  string
}

func NewRedisLocker(client redis.Cmdable, owner string) *RedisLocker {
	return &RedisLocker{client: client, owner: owner}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, invoiceID string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, common.LockKeyPrefix+invoiceID, l.owner, ttl).Result()
}
