package lock

import (
	"bytes"
	"context"
	"testing"

	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

func TestInitLockerMemory(t *testing.T) {
	locker, closeFn, err := InitLocker(context.Background(), &service.Config{LockBackend: MEMORY_BACKEND}, nil, "test", lecho.New(&bytes.Buffer{}))
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &MemoryLocker{}, locker)
}

func TestInitLockerUnknownBackend(t *testing.T) {
	_, closeFn, err := InitLocker(context.Background(), &service.Config{LockBackend: "zookeeper"}, nil, "test", lecho.New(&bytes.Buffer{}))
	defer closeFn()
	assert.ErrorContains(t, err, "zookeeper")
}

func TestInitLockerInvalidRedisURI(t *testing.T) {
	_, closeFn, err := InitLocker(context.Background(), &service.Config{LockBackend: REDIS_BACKEND, RedisUri: "not a url"}, nil, "test", lecho.New(&bytes.Buffer{}))
	defer closeFn()
	assert.ErrorContains(t, err, "invalid REDIS_URI")
}
