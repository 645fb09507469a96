package locking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"stratus/errors"
	"stratus/logging"
	"stratus/model"
)

// fakeRedis 实现 client 子集，带 TTL 语义的内存模拟
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	expiry map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), expiry: make(map[string]time.Time)}
}

func (f *fakeRedis) expired(key string) bool {
	exp, ok := f.expiry[key]
	return ok && time.Now().After(exp)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.values[key]; held && !f.expired(key) {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.expiry[key] = time.Now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v, ok := f.values[key]; ok && !f.expired(key) {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keys[0]
	current, held := f.values[key]
	if !held || f.expired(key) || current != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}

	switch script {
	case releaseScript:
		delete(f.values, key)
		delete(f.expiry, key)
		return redis.NewCmdResult(int64(1), nil)
	case keepAliveScript:
		ms := args[1].(int64)
		f.expiry[key] = time.Now().Add(time.Duration(ms) * time.Millisecond)
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Close() error { return nil }

func newRedisManager(t *testing.T, cfg Config) (*RedisLockManager, *fakeRedis) {
	t.Helper()
	fake := newFakeRedis()
	return &RedisLockManager{
		cfg:    RedisConfig{KeyPrefix: "stratus:", Lock: cfg},
		client: fake,
		logger: logging.NewNoopLogger(),
	}, fake
}

func TestRedisAcquireReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newRedisManager(t, testConfig())

	key := LockKey{EntityType: model.KindProject, EntityID: "prj-1"}
	h, err := mgr.Acquire(ctx, key, "inst-1")
	require.NoError(t, err)

	holder, err := mgr.Holder(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "inst-1", holder)

	require.NoError(t, mgr.Release(ctx, h))
	require.NoError(t, mgr.Release(ctx, h))

	holder, err = mgr.Holder(ctx, key)
	require.NoError(t, err)
	require.Empty(t, holder)
}

func TestRedisContendedAcquireTimesOut(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.TTL = 5 * time.Second
	cfg.AcquireTimeout = 80 * time.Millisecond
	mgr, _ := newRedisManager(t, cfg)

	key := LockKey{EntityType: model.KindComponent, EntityID: "c-1"}
	_, err := mgr.Acquire(ctx, key, "inst-1")
	require.NoError(t, err)

	_, err = mgr.Acquire(ctx, key, "inst-2")
	require.True(t, errors.IsErrorCode(err, errors.ErrCodeLockTimeout))
}

func TestRedisStaleTokenRelease(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.TTL = 50 * time.Millisecond
	mgr, _ := newRedisManager(t, cfg)

	key := LockKey{EntityType: model.KindComponent, EntityID: "c-1"}
	h1, err := mgr.Acquire(ctx, key, "inst-1")
	require.NoError(t, err)

	// 等租约过期后由另一实例接管
	time.Sleep(80 * time.Millisecond)
	_, err = mgr.Acquire(ctx, key, "inst-2")
	require.NoError(t, err)

	// 旧 token 的释放与续约都不影响新持有者
	require.NoError(t, mgr.Release(ctx, h1))
	require.Error(t, mgr.KeepAlive(ctx, h1))

	holder, err := mgr.Holder(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "inst-2", holder)
}

func TestRedisKeepAlive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.TTL = 100 * time.Millisecond
	mgr, _ := newRedisManager(t, cfg)

	key := LockKey{EntityType: model.KindComponent, EntityID: "c-1"}
	h, err := mgr.Acquire(ctx, key, "inst-1")
	require.NoError(t, err)

	for range 3 {
		time.Sleep(60 * time.Millisecond)
		require.NoError(t, mgr.KeepAlive(ctx, h))
	}

	holder, err := mgr.Holder(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "inst-1", holder)
}
