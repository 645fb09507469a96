package locking

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"stratus/errors"
	"stratus/logging"
)

// client captures the subset of go-redis commands we rely on (for easier testing).
type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Close() error
}

// releaseScript 仅当值匹配时删除，保证过期后被他人持有的锁不会被误释放
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// keepAliveScript 仅当值匹配时续约
const keepAliveScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`

// RedisConfig Redis 锁管理器连接配置
type RedisConfig struct {
	Client    redis.UniversalClient
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string

	Lock   Config
	Logger logging.Logger
}

// RedisLockManager 基于 Redis 的分布式锁管理器
//
// 实现方式：SET key owner|token NX PX ttl 获取；Lua 脚本做 token 校验的
// 释放与续约。编排实例可以运行在任意 worker 上，锁状态必须在外部存储。
type RedisLockManager struct {
	cfg       RedisConfig
	client    client
	ownClient bool
	logger    logging.Logger
}

// NewRedisLockManager 创建 Redis 锁管理器
func NewRedisLockManager(cfg RedisConfig) (*RedisLockManager, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "stratus:"
	}
	if cfg.Lock.TTL <= 0 {
		cfg.Lock = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("locking.redis")
	}

	var cl client
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		options := &redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB}
		cl = redis.NewClient(options)
		own = true
	}
	if cl == nil {
		return nil, stdErrors.New("redis client not configured")
	}

	return &RedisLockManager{cfg: cfg, client: cl, ownClient: own, logger: cfg.Logger}, nil
}

func (m *RedisLockManager) redisKey(key LockKey) string {
	return m.cfg.KeyPrefix + key.String()
}

func (m *RedisLockManager) Acquire(ctx context.Context, key LockKey, owner string) (*LockHandle, error) {
	deadline := time.Now().Add(m.cfg.Lock.AcquireTimeout)
	token := uuid.NewString()
	value := ownerToken(owner, token)

	for {
		ok, err := m.client.SetNX(ctx, m.redisKey(key), value, m.cfg.Lock.TTL).Result()
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInternal, "lock acquire")
		}
		if ok {
			m.logger.Debug(ctx, "lock acquired",
				logging.String("key", key.String()),
				logging.String("owner", owner))
			return &LockHandle{Key: key, Owner: owner, Token: token, AcquiredAt: time.Now()}, nil
		}

		if time.Now().After(deadline) {
			return nil, errors.NewError(errors.ErrCodeLockTimeout, "lock not acquired within budget").
				WithContext("key", key.String()).
				WithContext("owner", owner)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.Lock.PollInterval):
		}
	}
}

func (m *RedisLockManager) Release(ctx context.Context, handle *LockHandle) error {
	if handle == nil {
		return nil
	}

	value := ownerToken(handle.Owner, handle.Token)
	if err := m.client.Eval(ctx, releaseScript, []string{m.redisKey(handle.Key)}, value).Err(); err != nil && !stdErrors.Is(err, redis.Nil) {
		return errors.WrapError(err, errors.ErrCodeInternal, "lock release")
	}
	return nil
}

func (m *RedisLockManager) KeepAlive(ctx context.Context, handle *LockHandle) error {
	if handle == nil {
		return errors.NewError(errors.ErrCodeInternal, "nil lock handle")
	}

	value := ownerToken(handle.Owner, handle.Token)
	res, err := m.client.Eval(ctx, keepAliveScript, []string{m.redisKey(handle.Key)}, value, m.cfg.Lock.TTL.Milliseconds()).Int64()
	if err != nil && !stdErrors.Is(err, redis.Nil) {
		return errors.WrapError(err, errors.ErrCodeInternal, "lock keepalive")
	}
	if res == 0 {
		return errors.NewError(errors.ErrCodeLockTimeout, "lease no longer held").
			WithContext("key", handle.Key.String())
	}
	return nil
}

func (m *RedisLockManager) Holder(ctx context.Context, key LockKey) (string, error) {
	value, err := m.client.Get(ctx, m.redisKey(key)).Result()
	if stdErrors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapError(err, errors.ErrCodeInternal, "lock holder")
	}
	owner, _ := splitOwnerToken(value)
	return owner, nil
}

// Close 关闭自建的 Redis 连接
func (m *RedisLockManager) Close() error {
	if m.ownClient {
		return m.client.Close()
	}
	return nil
}
