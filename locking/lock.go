// Package locking 提供按文档身份键控的分布式互斥原语
//
// 锁用于串行化对同一实体的并发变更：同一时刻至多一个编排实例持有锁。
// 锁是应用层的约定（advisory），不由存储引擎强制——正确性依赖所有
// 变更路径都经过锁管理器。
//
// 崩溃安全：锁带租约 TTL，持有者进程崩溃后租约自动过期，不需要显式解锁，
// 因此不存在跨崩溃的死锁。持有者在步骤间通过 KeepAlive 续约。
//
// 锁顺序：跨实体类型没有内建顺序保证；编排锁多个实体时必须按
// model.DocumentKind.LockRank 的全局顺序获取（SortKeys），避免死锁。
package locking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stratus/model"
)

// LockKey 锁键，由实体类型与实体 ID 构成
type LockKey struct {
	EntityType model.DocumentKind
	EntityID   string
}

// KeyFor 从文档构造锁键
func KeyFor(doc model.IDocument) LockKey {
	return LockKey{EntityType: doc.Kind(), EntityID: doc.GetID()}
}

func (k LockKey) String() string {
	return fmt.Sprintf("lock:%s/%s", k.EntityType, k.EntityID)
}

// LockHandle 锁持有凭据
//
// Token 每次获取唯一；释放与续约都校验 Token，
// 租约过期后被他人重新获取的锁无法被旧持有者释放。
type LockHandle struct {
	Key        LockKey
	Owner      string
	Token      string
	AcquiredAt time.Time
}

// ILockManager 文档锁管理器接口
type ILockManager interface {
	// Acquire 获取锁，阻塞直到可用或超出获取预算（ErrCodeLockTimeout）
	Acquire(ctx context.Context, key LockKey, owner string) (*LockHandle, error)

	// Release 释放锁，幂等：重复释放、释放已过期的锁都安全
	Release(ctx context.Context, handle *LockHandle) error

	// KeepAlive 续约；锁已不再由该凭据持有时返回错误
	KeepAlive(ctx context.Context, handle *LockHandle) error

	// Holder 查询当前持有者（owner），未被持有返回空串
	Holder(ctx context.Context, key LockKey) (string, error)
}

// Config 锁管理器配置
type Config struct {
	// TTL 租约时长，持有者崩溃后最多经过一个 TTL 锁自动释放
	TTL time.Duration

	// AcquireTimeout 获取锁的等待预算，超出返回 ErrCodeLockTimeout
	AcquireTimeout time.Duration

	// PollInterval 竞争时的重试间隔
	PollInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TTL:            30 * time.Second,
		AcquireTimeout: 2 * time.Minute,
		PollInterval:   50 * time.Millisecond,
	}
}

// SortKeys 按全局锁顺序排序锁键：类型序优先，同类型按 ID
func SortKeys(keys []LockKey) {
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := keys[i].EntityType.LockRank(), keys[j].EntityType.LockRank()
		if ri != rj {
			return ri < rj
		}
		return keys[i].EntityID < keys[j].EntityID
	})
}
