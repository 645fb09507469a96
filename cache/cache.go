// Package cache 泛型 LRU/TTL 缓存
//
// 为读多写少的解析路径服务，典型用途是 Provider 注册表：每条命令的
// 扇出都要解析一次 Provider 集合，而注册文档本身很少变化。
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称，用于日志
	Name string

	// MaxSize 最大条目数，超出时按 LRU 驱逐；0 表示不限容量
	MaxSize int

	// TTL 条目存活时间，基于最近访问时间；0 表示永不过期
	TTL time.Duration
}

// Stats 缓存统计
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Cache 并发安全的 LRU/TTL 缓存
//
// Get 会更新 LRU 位置与访问时间，因此读路径也持写锁。对这里的
// 使用场景（每次命令扇出一次查找）锁竞争可以忽略。
type Cache[K comparable, V any] struct {
	cfg   Config
	items map[K]*entry[K, V]
	lru   *list.List
	mu    sync.Mutex
	stats Stats
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
	element    *list.Element
}

// New 创建缓存
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	return &Cache[K, V]{
		cfg:   cfg,
		items: make(map[K]*entry[K, V]),
		lru:   list.New(),
	}
}

// Get 查找缓存值，过期条目按未命中处理并被删除
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return value, false
	}
	if c.expired(e) {
		c.remove(e)
		c.stats.Misses++
		return value, false
	}

	e.accessedAt = time.Now()
	c.lru.MoveToFront(e.element)
	c.stats.Hits++
	return e.value, true
}

// Set 写入缓存值，容量已满时先驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.accessedAt = now
		c.lru.MoveToFront(e.element)
		return
	}

	if c.cfg.MaxSize > 0 && len(c.items) >= c.cfg.MaxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest.Value.(*entry[K, V]))
			c.stats.Evictions++
		}
	}

	e := &entry[K, V]{key: key, value: value, accessedAt: now}
	e.element = c.lru.PushFront(e)
	c.items[key] = e
}

// Delete 删除条目，返回条目是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Clear 清空缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[K, V])
	c.lru = list.New()
}

// Len 当前条目数
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 统计快照
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return c.cfg.TTL > 0 && time.Since(e.accessedAt) >= c.cfg.TTL
}

// remove 需要持锁调用
func (c *Cache[K, V]) remove(e *entry[K, V]) {
	c.lru.Remove(e.element)
	delete(c.items, e.key)
}
