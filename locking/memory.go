package locking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratus/errors"
)

// MemoryLockManager 进程内锁管理器（用于测试与单机开发）
//
// 租约语义与 RedisLockManager 一致：带 TTL，过期即视为释放。
type MemoryLockManager struct {
	cfg   Config
	mu    sync.Mutex
	locks map[string]memLease
}

type memLease struct {
	owner  string
	token  string
	expiry time.Time
}

// NewMemoryLockManager 创建内存锁管理器
func NewMemoryLockManager(cfg Config) *MemoryLockManager {
	if cfg.TTL <= 0 {
		cfg = DefaultConfig()
	}
	return &MemoryLockManager{cfg: cfg, locks: make(map[string]memLease)}
}

func (m *MemoryLockManager) Acquire(ctx context.Context, key LockKey, owner string) (*LockHandle, error) {
	deadline := time.Now().Add(m.cfg.AcquireTimeout)
	token := uuid.NewString()

	for {
		if m.tryAcquire(key, owner, token) {
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
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

func (m *MemoryLockManager) tryAcquire(key LockKey, owner, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, held := m.locks[key.String()]
	if held && time.Now().Before(lease.expiry) {
		return false
	}
	m.locks[key.String()] = memLease{owner: owner, token: token, expiry: time.Now().Add(m.cfg.TTL)}
	return true
}

func (m *MemoryLockManager) Release(ctx context.Context, handle *LockHandle) error {
	if handle == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 仅持有当前 token 的凭据可以释放；其余情况视为已释放（幂等）
	if lease, held := m.locks[handle.Key.String()]; held && lease.token == handle.Token {
		delete(m.locks, handle.Key.String())
	}
	return nil
}

func (m *MemoryLockManager) KeepAlive(ctx context.Context, handle *LockHandle) error {
	if handle == nil {
		return errors.NewError(errors.ErrCodeInternal, "nil lock handle")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lease, held := m.locks[handle.Key.String()]
	if !held || lease.token != handle.Token || time.Now().After(lease.expiry) {
		return errors.NewError(errors.ErrCodeLockTimeout, "lease no longer held").
			WithContext("key", handle.Key.String())
	}
	lease.expiry = time.Now().Add(m.cfg.TTL)
	m.locks[handle.Key.String()] = lease
	return nil
}

func (m *MemoryLockManager) Holder(ctx context.Context, key LockKey) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, held := m.locks[key.String()]
	if !held || time.Now().After(lease.expiry) {
		return "", nil
	}
	return lease.owner, nil
}

// ownerToken 组合持有者与 token 为单一存储值，Redis 实现共用
func ownerToken(owner, token string) string {
	return owner + "|" + token
}

func splitOwnerToken(value string) (owner, token string) {
	if i := strings.IndexByte(value, '|'); i >= 0 {
		return value[:i], value[i+1:]
	}
	return value, ""
}
