package statestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"stratus/errors"
)

// ErrInstanceNotFound 实例不存在
var ErrInstanceNotFound = errors.NewError(errors.ErrCodeNotFound, "orchestration instance not found")

// MemoryInstanceStore 内存实例存储（测试与单机模式用）
//
// 不持久化，进程重启后数据丢失。
type MemoryInstanceStore struct {
	instances map[string]*Instance
	mutex     sync.RWMutex
}

// NewMemoryInstanceStore 创建内存实例存储
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]*Instance),
	}
}

// Get 加载实例
func (s *MemoryInstanceStore) Get(ctx context.Context, instanceID string) (*Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	instance, exists := s.instances[instanceID]
	if !exists {
		return nil, ErrInstanceNotFound
	}
	return instance.Clone(), nil
}

// Save 保存实例
func (s *MemoryInstanceStore) Save(ctx context.Context, instance *Instance) error {
	if instance == nil || instance.InstanceID == "" {
		return errors.NewError(errors.ErrCodeValidation, "instance id is required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	// 步骤日志由 AppendStep 独立维护，Save 不回写
	dup := instance.Clone()
	if existing, ok := s.instances[instance.InstanceID]; ok {
		dup.Steps = existing.Steps
	}
	s.instances[instance.InstanceID] = dup
	return nil
}

// AppendStep 追加步骤检查点
func (s *MemoryInstanceStore) AppendStep(ctx context.Context, instanceID string, record StepRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	instance, exists := s.instances[instanceID]
	if !exists {
		return ErrInstanceNotFound
	}
	instance.Steps = append(instance.Steps, record)
	instance.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetSteps 清空步骤日志
func (s *MemoryInstanceStore) ResetSteps(ctx context.Context, instanceID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	instance, exists := s.instances[instanceID]
	if !exists {
		return ErrInstanceNotFound
	}
	instance.Steps = nil
	instance.UpdatedAt = time.Now().UTC()
	return nil
}

// RequestCancel 置位取消标志
func (s *MemoryInstanceStore) RequestCancel(ctx context.Context, instanceID string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	instance, exists := s.instances[instanceID]
	if !exists {
		return false, ErrInstanceNotFound
	}
	if instance.Status.IsFinal() {
		return false, nil
	}
	instance.CancelRequested = true
	instance.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ListActive 列出非终态实例
func (s *MemoryInstanceStore) ListActive(ctx context.Context) ([]*Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []*Instance
	for _, instance := range s.instances {
		if !instance.Status.IsFinal() {
			result = append(result, instance.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Clear 清空所有实例（测试用）
func (s *MemoryInstanceStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.instances = make(map[string]*Instance)
}

var _ IInstanceStore = (*MemoryInstanceStore)(nil)
